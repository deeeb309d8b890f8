package constants

// QueueState is the review state of a search-discovered candidate.
// Stored as-is in queue_items.state.
type QueueState string

const (
	QueueStateDiscovered            QueueState = "discovered"
	QueueStateClassifying           QueueState = "classifying"
	QueueStateRelevantPendingReview QueueState = "relevant_pending_review"
	QueueStateIrrelevantArchived    QueueState = "irrelevant_archived"
	QueueStatePromoted              QueueState = "promoted"
	QueueStateRejected              QueueState = "rejected"
)

// AllQueueStates is ordered along the state machine.
var AllQueueStates = []QueueState{
	QueueStateDiscovered,
	QueueStateClassifying,
	QueueStateRelevantPendingReview,
	QueueStateIrrelevantArchived,
	QueueStatePromoted,
	QueueStateRejected,
}

// queueTransitions lists the only legal successor states.
var queueTransitions = map[QueueState][]QueueState{
	QueueStateDiscovered:            {QueueStateClassifying},
	QueueStateClassifying:           {QueueStateRelevantPendingReview, QueueStateIrrelevantArchived},
	QueueStateRelevantPendingReview: {QueueStatePromoted, QueueStateRejected},
}

// CanTransition reports whether from -> to is an edge of the queue state machine.
func CanTransition(from, to QueueState) bool {
	for _, s := range queueTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for states with no outgoing transition.
func (s QueueState) IsTerminal() bool {
	_, ok := queueTransitions[s]
	return !ok
}

// HoldsFingerprint is true while a queue item keeps its fingerprint registered.
func (s QueueState) HoldsFingerprint() bool {
	switch s {
	case QueueStateDiscovered, QueueStateClassifying, QueueStateRelevantPendingReview:
		return true
	}
	return false
}

func (s QueueState) Valid() bool {
	for _, v := range AllQueueStates {
		if v == s {
			return true
		}
	}
	return false
}

// UploadStatus is the per-document outcome of an upload batch.
type UploadStatus string

const (
	UploadStatusCreated   UploadStatus = "created"
	UploadStatusDuplicate UploadStatus = "duplicate"
	UploadStatusFailed    UploadStatus = "failed"
)

// AttemptStatus is stored on every cost record.
type AttemptStatus string

const (
	AttemptStatusSuccess AttemptStatus = "success"
	AttemptStatusFailure AttemptStatus = "failure"
)

// Operation names the kind of AI call a cost record accounts for.
type Operation string

const (
	OperationExtract  Operation = "extract"
	OperationClassify Operation = "classify"
)
