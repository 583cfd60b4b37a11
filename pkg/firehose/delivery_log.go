package firehose

import (
	"sync"
	"time"
)

// DeliveryRecord is one handled queue message, kept for operator diagnosis.
type DeliveryRecord struct {
	Identifier        string        `json:"identifier"`
	EventType         string        `json:"event_type"`
	OrganizationLogin string        `json:"organization_login,omitempty"`
	Outcome           string        `json:"outcome"`
	InterestingEvents int           `json:"interesting_events,omitempty"`
	ReceivedAt        time.Time     `json:"received_at"`
	Duration          time.Duration `json:"duration"`
}

// DeliveryLog is a bounded in-memory record of recent deliveries. When full,
// the oldest tenth is evicted.
type DeliveryLog struct {
	mu      sync.RWMutex
	records []DeliveryRecord
	max     int
}

func NewDeliveryLog(max int) *DeliveryLog {
	if max <= 0 {
		max = 1000
	}
	return &DeliveryLog{max: max}
}

// Add appends a record, evicting the oldest entries when the log is full.
func (l *DeliveryLog) Add(record DeliveryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.max {
		evict := l.max / 10
		if evict == 0 {
			evict = 1
		}
		l.records = l.records[evict:]
	}
	l.records = append(l.records, record)
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (l *DeliveryLog) Recent(limit int) []DeliveryRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.records)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]DeliveryRecord, 0, n)
	for i := len(l.records) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, l.records[i])
	}
	return result
}

// ByOrganization returns up to limit records for one organization, newest
// first.
func (l *DeliveryLog) ByOrganization(login string, limit int) []DeliveryRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var result []DeliveryRecord
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].OrganizationLogin != login {
			continue
		}
		result = append(result, l.records[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}

// Stats returns delivery counts per outcome.
func (l *DeliveryLog) Stats() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stats := make(map[string]int)
	for _, record := range l.records {
		stats[record.Outcome]++
	}
	return stats
}

// Len reports the number of retained records.
func (l *DeliveryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
