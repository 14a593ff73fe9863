package models

// Status is the lifecycle state of a Document.
type Status string

const (
	StatusReceived      Status = "received"
	StatusOcrOK         Status = "ocr_ok"
	StatusOcrError      Status = "ocr_error"
	StatusEdited        Status = "edited"
	StatusConfirmed     Status = "confirmed"
	StatusSent          Status = "sent"
	StatusDeliveryError Status = "delivery_error"
	StatusNeedReshoot   Status = "need_reshoot"
)

var allStatuses = []Status{
	StatusReceived,
	StatusOcrOK,
	StatusOcrError,
	StatusEdited,
	StatusConfirmed,
	StatusSent,
	StatusDeliveryError,
	StatusNeedReshoot,
}

// transitions maps a target status to the set of statuses it may be entered from.
var transitions = map[Status]map[Status]bool{
	StatusOcrOK:    set(StatusReceived),
	StatusOcrError: set(StatusReceived),
	StatusNeedReshoot: set(
		StatusOcrOK, StatusOcrError, StatusEdited,
		StatusConfirmed, StatusSent, StatusDeliveryError,
	),
	StatusEdited: set(
		StatusReceived, StatusOcrOK, StatusOcrError, StatusEdited,
		StatusConfirmed, StatusSent, StatusDeliveryError,
	),
	StatusConfirmed:     set(StatusOcrOK, StatusEdited),
	StatusSent:          set(StatusConfirmed, StatusDeliveryError),
	StatusDeliveryError: set(StatusConfirmed, StatusDeliveryError),
}

func set(ss ...Status) map[Status]bool {
	m := make(map[Status]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusNeedReshoot
}

// CanTransition reports whether a document in status from may move to status to.
func CanTransition(from, to Status) bool {
	return transitions[to][from]
}
