// ABOUTME: Prometheus collectors for the bridge daemon
// ABOUTME: Counts watcher ticks, thread operations, posts, and RPC traffic

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the daemon exports. Each daemon instance
// owns its own registry so tests can construct as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	WatcherTicks        prometheus.Counter
	WatcherTicksSkipped prometheus.Counter
	ThreadsCreated      prometheus.Counter
	ThreadsRenamed      prometheus.Counter
	ThreadsArchived     prometheus.Counter
	ThreadsReopened     prometheus.Counter
	PostsSent           prometheus.Counter
	ChunksSent          prometheus.Counter
	FilesSent           prometheus.Counter
	InboundMessages     prometheus.Counter
	QuestionsAsked      prometheus.Counter
	QuestionsResolved   *prometheus.CounterVec
	RPCRequests         *prometheus.CounterVec
}

// New creates a Metrics set backed by a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		WatcherTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_watcher_ticks_total",
			Help: "Completed chat watcher reconciliation ticks.",
		}),
		WatcherTicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_watcher_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running.",
		}),
		ThreadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_threads_created_total",
			Help: "Discord threads created for conversations.",
		}),
		ThreadsRenamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_threads_renamed_total",
			Help: "Thread rename calls issued by the name sync watcher.",
		}),
		ThreadsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_threads_archived_total",
			Help: "Threads archived to mirror IDE-side archiving.",
		}),
		ThreadsReopened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_threads_reopened_total",
			Help: "Threads unarchived by the inactivity reopener.",
		}),
		PostsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_posts_total",
			Help: "Outbound thread posts (before chunking).",
		}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_post_chunks_total",
			Help: "Outbound message chunks sent to Discord.",
		}),
		FilesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_files_total",
			Help: "Files uploaded into threads.",
		}),
		InboundMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_inbound_messages_total",
			Help: "Non-bot messages received in mapped threads.",
		}),
		QuestionsAsked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_questions_asked_total",
			Help: "Interactive questions posted.",
		}),
		QuestionsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_questions_resolved_total",
			Help: "Interactive question resolutions by outcome.",
		}, []string{"outcome"}), // option | text | timeout
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_rpc_requests_total",
			Help: "Loopback RPC requests by route.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.WatcherTicks, m.WatcherTicksSkipped,
		m.ThreadsCreated, m.ThreadsRenamed, m.ThreadsArchived, m.ThreadsReopened,
		m.PostsSent, m.ChunksSent, m.FilesSent,
		m.InboundMessages,
		m.QuestionsAsked, m.QuestionsResolved,
		m.RPCRequests,
	)
	return m
}

// Watcher-facing helpers so the watcher can depend on a narrow interface.

func (m *Metrics) TickCompleted()  { m.WatcherTicks.Inc() }
func (m *Metrics) TickSkipped()    { m.WatcherTicksSkipped.Inc() }
func (m *Metrics) ThreadCreated()  { m.ThreadsCreated.Inc() }
func (m *Metrics) ThreadArchived() { m.ThreadsArchived.Inc() }
func (m *Metrics) ThreadRenamed()  { m.ThreadsRenamed.Inc() }
func (m *Metrics) Reopened(n int)  { m.ThreadsReopened.Add(float64(n)) }

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
