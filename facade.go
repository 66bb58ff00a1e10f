package guard

import (
	"fmt"

	guardcommand "github.com/goliatone/go-webhook-guard/command"
	guardquery "github.com/goliatone/go-webhook-guard/query"
)

type CommandQueryService interface {
	guardcommand.MutatingService
	guardquery.WebhookLogReader
	guardquery.FailureEvaluator
}

type Commands struct {
	Receive         *guardcommand.ReceiveWebhookCommand
	Validate        *guardcommand.ValidateWebhookCommand
	ClearCooldown   *guardcommand.ClearCooldownCommand
	PruneLogs       *guardcommand.PruneLogsCommand
	RunRetryAttempt *guardcommand.RunRetryAttemptCommand
}

type Queries struct {
	ListLogs         *guardquery.ListWebhookLogsQuery
	FindLog          *guardquery.FindWebhookLogQuery
	EvaluateFailures *guardquery.EvaluateFailuresQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
	bundles  map[string]any
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	logReader guardquery.WebhookLogReader
	hooks     *ExtensionHooks
}

// WithLogReader serves the log queries from a reader other than the service,
// such as a read replica store.
func WithLogReader(reader guardquery.WebhookLogReader) FacadeOption {
	return func(options *facadeOptions) {
		options.logReader = reader
	}
}

// WithExtensionHooks builds the registered command/query bundles with the
// facade.
func WithExtensionHooks(hooks *ExtensionHooks) FacadeOption {
	return func(options *facadeOptions) {
		options.hooks = hooks
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("guard: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.logReader
	if reader == nil {
		reader = service
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Receive:         guardcommand.NewReceiveWebhookCommand(service),
		Validate:        guardcommand.NewValidateWebhookCommand(service),
		ClearCooldown:   guardcommand.NewClearCooldownCommand(service),
		PruneLogs:       guardcommand.NewPruneLogsCommand(service),
		RunRetryAttempt: guardcommand.NewRunRetryAttemptCommand(service),
	}
	facade.queries = Queries{
		ListLogs:         guardquery.NewListWebhookLogsQuery(reader),
		FindLog:          guardquery.NewFindWebhookLogQuery(reader),
		EvaluateFailures: guardquery.NewEvaluateFailuresQuery(service),
	}

	bundles, err := cfg.hooks.BuildCommandQueryBundles(service)
	if err != nil {
		return nil, err
	}
	facade.bundles = bundles

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Bundle returns the extension bundle registered under name.
func (f *Facade) Bundle(name string) (any, bool) {
	if f == nil || f.bundles == nil {
		return nil, false
	}
	bundle, ok := f.bundles[name]
	return bundle, ok
}
