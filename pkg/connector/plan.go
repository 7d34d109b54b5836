package connector

import (
	"context"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/plan"
	"github.com/ormasoftchile/dumper/pkg/task"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// Plan runs the units declared in a plan file. SQL sources need --url;
// HTTP, command and file sources work without it.
type Plan struct{}

func (*Plan) Name() string { return "plan" }

func (*Plan) Description() string {
	return "units declared in a YAML plan (--plan)"
}

func (*Plan) Validate(args *config.Arguments) error {
	if args.Plan == "" {
		return usage.New("the plan connector needs a plan file", "set --plan or "+config.EnvPlan)
	}
	return nil
}

func (*Plan) Open(ctx context.Context, args *config.Arguments) (*Handle, error) {
	h := &Handle{HTTP: NewHTTPClient(args)}
	if args.URL != "" {
		db, err := openPostgres(ctx, args)
		if err != nil {
			return nil, err
		}
		h.DB = db
	}
	return h, nil
}

func (*Plan) Tasks(args *config.Arguments) ([]task.Task, error) {
	p, errs := plan.ValidateFile(args.Plan, args.Vars)
	if err := plan.AsError(errs); err != nil {
		return nil, err
	}
	return plan.Build(p, args.Vars)
}
