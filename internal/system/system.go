package system

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// histograms
var (
	// buckets for seconds resolutions of histograms
	buckets      = []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10}
	SaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Name:      "events_save_duration_seconds",
			Help:      "Time taken to persist events to the storage.",
			Buckets:   buckets,
		},
	)
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Name:      "events_query_duration_seconds",
			Help:      "Time taken to compute stats for a query.",
			Buckets:   buckets,
		},
	)
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Name:      "message_dispatch_duration_seconds",
			Help:      "Time taken to run a message through its handler chain.",
			Buckets:   buckets,
		},
		[]string{"type"},
	)
)

var (
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vault",
		Name:      "messages_received",
	})
	MessagesReplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vault",
		Name:      "messages_replied",
		Help:      "Replies sent by outcome.",
	}, []string{"outcome"})
	EventsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vault",
		Name:      "events_accepted",
	})
	EventsAnonymous = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vault",
		Name:      "events_anonymous",
		Help:      "Events stored without a visitor id.",
	})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vault",
		Name:      "events_dropped",
		Help:      "Events discarded because the visitor denied consent.",
	})
)

func init() {
	prometheus.DefaultRegisterer.MustRegister(
		SaveDuration,
		QueryDuration,
		DispatchDuration,
		MessagesReceived,
		MessagesReplied,
		EventsAccepted,
		EventsAnonymous,
		EventsDropped,
	)
}

// Stats is a snapshot of the counters, served on the health endpoint.
type Stats struct {
	Timestamp        time.Time `json:"timestamp"`
	MessagesReceived int64     `json:"messagesReceived"`
	EventsAccepted   int64     `json:"eventsAccepted"`
	EventsAnonymous  int64     `json:"eventsAnonymous"`
	EventsDropped    int64     `json:"eventsDropped"`
	TotalAllocation  int64     `json:"totalAllocation"`
}

func (s *Stats) Read(ts time.Time) {
	s.Timestamp = ts
	m := new(dto.Metric)

	MessagesReceived.Write(m)
	s.MessagesReceived = int64(m.GetCounter().GetValue())

	m.Reset()
	EventsAccepted.Write(m)
	s.EventsAccepted = int64(m.GetCounter().GetValue())

	m.Reset()
	EventsAnonymous.Write(m)
	s.EventsAnonymous = int64(m.GetCounter().GetValue())

	m.Reset()
	EventsDropped.Write(m)
	s.EventsDropped = int64(m.GetCounter().GetValue())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.TotalAllocation = int64(mem.TotalAlloc)
}

func Read() (o Stats) {
	o.Read(time.Now().UTC())
	return
}
