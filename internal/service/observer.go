package service

import "github.com/njprem/Visitor_Invite_Console/internal/domain"

// Observer receives bulk-upload events for metrics. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	UploadCompleted(err error)
	PollCompleted(err error)
	PatchCompleted(err error)
	ConfirmCompleted(kind domain.ConfirmOutcomeKind)
	SessionOpened()
	SessionClosed(state ControllerState)
}

type noopObserver struct{}

func (noopObserver) UploadCompleted(error)                      {}
func (noopObserver) PollCompleted(error)                        {}
func (noopObserver) PatchCompleted(error)                       {}
func (noopObserver) ConfirmCompleted(domain.ConfirmOutcomeKind) {}
func (noopObserver) SessionOpened()                             {}
func (noopObserver) SessionClosed(ControllerState)              {}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return noopObserver{}
	}
	return o
}
