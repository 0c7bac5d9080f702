// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "efgroups"

type Metrics struct {
	MessagesSent         prometheus.Counter
	MessagesForwarded    prometheus.Counter
	BroadcastFailures    prometheus.Counter
	NotificationFailures prometheus.Counter
	ReceiptUpdates       *prometheus.CounterVec
	ThrottledEvents      prometheus.Counter
	RetentionPurged      prometheus.Counter
	Sessions             prometheus.Gauge
}

// New builds the collectors and registers them on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Primary messages persisted from message:send.",
		}),
		MessagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_forwarded_total",
			Help:      "Forwarded copies persisted into secondary groups.",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Room emits that failed.",
		}),
		NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be persisted.",
		}),
		ReceiptUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_updates_total",
			Help:      "Messages that gained a delivered or seen receipt.",
		}, []string{"kind"}),
		ThrottledEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_throttled_events_total",
			Help:      "Socket events dropped by the per-session rate limit.",
		}),
		RetentionPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_purged_messages_total",
			Help:      "Soft-deleted messages removed by the retention sweep.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_sessions",
			Help:      "Connected socket sessions.",
		}),
	}

	reg.MustRegister(
		m.MessagesSent,
		m.MessagesForwarded,
		m.BroadcastFailures,
		m.NotificationFailures,
		m.ReceiptUpdates,
		m.ThrottledEvents,
		m.RetentionPurged,
		m.Sessions,
	)
	return m
}
