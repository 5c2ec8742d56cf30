package domain

import "time"

// EventLogEntry はアクティビティログの一行です。
type EventLogEntry struct {
	EventType EventType `json:"event_type"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// EventLog は新しい順で最大 Limit 件のログです。
type EventLog struct {
	Limit   int             `json:"limit"`
	Entries []EventLogEntry `json:"entries"`
}

// NewEventLog は上限付きのログを生成します。
func NewEventLog(limit int) EventLog {
	if limit <= 0 {
		limit = 100
	}
	return EventLog{Limit: limit}
}

// Add は先頭に追加します。
func (l *EventLog) Add(e EventLogEntry) {
	next := make([]EventLogEntry, 0, min(len(l.Entries)+1, l.Limit))
	next = append(next, e)
	for _, old := range l.Entries {
		if len(next) == l.Limit {
			break
		}
		next = append(next, old)
	}
	l.Entries = next
}

// Reset は REST で取得した履歴（新しい順）で置き換えます。
func (l *EventLog) Reset(entries []EventLogEntry) {
	if len(entries) > l.Limit {
		entries = entries[:l.Limit]
	}
	l.Entries = append([]EventLogEntry(nil), entries...)
}

// Clone はコピーを返します。
func (l EventLog) Clone() EventLog {
	out := l
	out.Entries = append([]EventLogEntry(nil), l.Entries...)
	return out
}
