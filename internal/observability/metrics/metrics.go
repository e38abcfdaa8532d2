package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authentication_attempts_total",
			Help: "Token validations by validator and result.",
		},
		[]string{"method", "result"},
	)

	KeyPairsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_keypairs_generated_total",
			Help: "Key pairs generated lazily for recipients.",
		},
		[]string{"result"},
	)

	PublicKeyRacesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_public_key_races_total",
			Help: "Conditional public key writes by outcome.",
		},
		[]string{"outcome"},
	)

	MessagesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_messages_stored_total",
			Help: "Total number of stored messages.",
		},
		[]string{"mode", "self_destruct"},
	)

	MessagesCiphertextBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bazaar_messages_ciphertext_bytes",
			Help:    "Ciphertext sizes for stored messages.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		},
	)

	MessageHistoryFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_message_history_fetched_total",
			Help: "Total number of history fetch operations.",
		},
		[]string{"scope"},
	)

	DecryptFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_decrypt_failures_total",
			Help: "Server-side decryptions that failed closed.",
		},
		[]string{"reason"},
	)

	ExpiredMessagesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_expired_messages_deleted_total",
			Help: "Expired messages removed, by mechanism.",
		},
		[]string{"strategy"},
	)

	ExpiryTimersPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bazaar_expiry_timers_pending",
			Help: "In-process expiry timers currently armed.",
		},
	)
)

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		AuthenticationAttemptsTotal,
		KeyPairsGeneratedTotal,
		PublicKeyRacesTotal,
		MessagesStoredTotal,
		MessagesCiphertextBytes,
		MessageHistoryFetchedTotal,
		DecryptFailuresTotal,
		ExpiredMessagesDeletedTotal,
		ExpiryTimersPending,
	)
}
