package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "collab_client"

var (
	DocumentMailboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "document_mailbox_depth",
		Help:      "Commands waiting in a document actor mailbox.",
	}, []string{"doc_id"})

	StoreMailboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_mailbox_depth",
		Help:      "Commands waiting in a revision store worker mailbox.",
	}, []string{"doc_id"})

	RevisionsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revisions_committed_total",
		Help:      "Revisions persisted, by origin.",
	}, []string{"origin"})

	RevisionsAcked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revisions_acked_total",
		Help:      "Local revisions acknowledged by the server.",
	})

	RevisionsRetransmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revisions_retransmitted_total",
		Help:      "Unacknowledged revisions resent after reconnect.",
	})

	RepliesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_dropped_total",
		Help:      "Replies produced after the requester went away.",
	}, []string{"component"})

	RevisionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revision_conflicts_total",
		Help:      "Inbound revisions rejected because their base did not match the head.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kafka_events_dropped_total",
		Help:      "Revision events dropped after exhausting retries.",
	})
)
