package submission

// Message titles written by the reconciler.
const (
	titleWaiting            = "Waiting for the authority to process the invoice"
	titleConfirmed          = "Invoice accepted by the authority"
	titleConfirmedWarnings  = "Invoice accepted by the authority with messages"
	titleRejected           = "Invoice rejected by the authority"
	titleAnnulWaiting       = "Waiting for the authority to process the annulment"
	titleAnnulPending       = "Annulment must be confirmed on the authority portal"
	titleAnnulVerified      = "Annulment verified"
	titleAnnulRejected      = "Annulment was rejected on the authority portal"
	titleAnnulNotVerifiable = "Annulment could not be verified"
	titleAnnulAborted       = "Annulment aborted by the authority"
)

// Outcome is the reconciled state and message of one document.
type Outcome struct {
	State   State
	Message TransactionMessage
	// Applies is false when the current state does not take status results.
	Applies bool
}

// Reconcile maps one status result onto the state machine. It performs no I/O
// and returns the same outcome for the same inputs.
func Reconcile(current State, result StatusResult, annulment AnnulmentStatus) Outcome {
	switch {
	case current.IsUploadPending():
		return reconcileUpload(result)
	case current.IsCancelPending():
		return reconcileAnnulment(result, annulment)
	default:
		return Outcome{State: current}
	}
}

func reconcileUpload(result StatusResult) Outcome {
	switch {
	case result.Status.IsProcessing():
		return Outcome{State: StateSent, Message: Info(titleWaiting), Applies: true}
	case result.Status == InvoiceDone:
		msgs := result.Messages()
		if len(msgs) == 0 {
			return Outcome{State: StateConfirmed, Message: Info(titleConfirmed), Applies: true}
		}
		return Outcome{State: StateConfirmedWarning, Message: Warning(titleConfirmedWarnings, msgs...), Applies: true}
	case result.Status == InvoiceAborted:
		return Outcome{State: StateRejected, Message: Blocking(titleRejected, result.Messages()...), Applies: true}
	default:
		return Outcome{State: StateSent, Message: Warning(titleWaiting, "unknown invoice status "+string(result.Status)), Applies: true}
	}
}

func reconcileAnnulment(result StatusResult, annulment AnnulmentStatus) Outcome {
	pending := Outcome{
		State:   StateCancelPending,
		Message: Warning(titleAnnulPending, result.Messages()...),
		Applies: true,
	}

	switch {
	case result.Status.IsProcessing():
		if annulment == AnnulmentVerificationPending {
			return pending
		}
		return Outcome{State: StateCancelSent, Message: Info(titleAnnulWaiting), Applies: true}
	case result.Status == InvoiceDone:
		switch annulment {
		case AnnulmentVerificationPending:
			return pending
		case AnnulmentVerificationDone:
			return Outcome{State: StateCancelled, Message: Info(titleAnnulVerified), Applies: true}
		case AnnulmentVerificationRejected:
			return Outcome{State: StateConfirmedWarning, Message: Warning(titleAnnulRejected, result.Messages()...), Applies: true}
		default:
			return Outcome{State: StateConfirmedWarning, Message: Warning(titleAnnulNotVerifiable, result.Messages()...), Applies: true}
		}
	case result.Status == InvoiceAborted:
		return Outcome{State: StateConfirmedWarning, Message: Blocking(titleAnnulAborted, result.Messages()...), Applies: true}
	default:
		return Outcome{State: StateCancelSent, Message: Warning(titleAnnulWaiting, "unknown invoice status "+string(result.Status)), Applies: true}
	}
}
