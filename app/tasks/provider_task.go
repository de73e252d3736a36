package tasks

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
)

// ProviderResult is the three-valued answer of a provider call.
type ProviderResult int

const (
	// ProviderIdle means there was nothing to do.
	ProviderIdle ProviderResult = iota
	// ProviderDone means the provider did the work.
	ProviderDone
	// ProviderCredentialsInvalid means the owner must re-authenticate.
	ProviderCredentialsInvalid
)

// ProviderOutcome converts a provider answer into a handler outcome.
func ProviderOutcome(result ProviderResult, err error) Outcome {
	if err != nil {
		return Failed(err)
	}
	switch result {
	case ProviderDone:
		return Success()
	case ProviderCredentialsInvalid:
		return Failed(ErrInvalidCredentials)
	}
	return NoOp()
}

// ProviderTask runs DOWNLOAD, MARK, MARK_TELEGRAM and GMAIL_SORT against the
// provider named on the task, or the owner's provider when the task names none.
type ProviderTask struct {
	providers map[string]Provider
}

func NewProviderTask(providers map[string]Provider) *ProviderTask {
	return &ProviderTask{providers: providers}
}

func (h *ProviderTask) Handle(ctx context.Context, claim Claim) Outcome {
	name := cmp.Or(claim.Task.Provider, claim.User.Provider)
	provider, ok := h.providers[name]
	if !ok {
		return Failed(fmt.Errorf("%w: %q", ErrUnknownProvider, name))
	}

	var (
		result ProviderResult
		err    error
	)
	switch claim.Type {
	case TaskTypeDownload:
		result, err = provider.Download(ctx, claim.User, claim.Task)
	case TaskTypeMark, TaskTypeMarkTelegram:
		result, err = provider.Mark(ctx, claim.User, claim.Task)
	case TaskTypeGmailSort:
		sorter, ok := provider.(Sorter)
		if !ok {
			return Failed(fmt.Errorf("%w: %s cannot run %s", ErrUnsupported, name, claim.Type))
		}
		result, err = sorter.Sort(ctx, claim.User, claim.Task)
	default:
		return Failed(fmt.Errorf("provider task cannot handle %s", claim.Type))
	}

	slog.Debug("Provider call finished", "provider", name, "owner", claim.Task.Owner, "type", claim.Type.String(), "result", result, "error", err)
	return ProviderOutcome(result, err)
}

// sorts reports whether any of providers implements Sorter.
func sorts(providers map[string]Provider) bool {
	for _, p := range providers {
		if _, ok := p.(Sorter); ok {
			return true
		}
	}
	return false
}
