package trigger

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/c2store/internal/feed"
	"github.com/mesh-intelligence/c2store/pkg/types"
)

// ActorPrefix marks writes made by rule actions. Events carrying it are not
// evaluated, so a rule never fires on its own output.
const ActorPrefix = "trigger:"

const defaultConflictRetries = 3

// Match reports one rule firing.
type Match struct {
	Rule    *Rule
	Event   types.Event
	Record  *types.Record
	Results []ActionResult
}

// ActionResult is the outcome of one action of a fired rule. Records holds
// what the action created or updated.
type ActionResult struct {
	Action  Action
	Records []*types.Record
	Err     error
}

// Options configures a Runner.
type Options struct {
	// OnMatch, if set, is called for every rule that fires.
	OnMatch func(Match)
	// ConflictRetries bounds how often an updateEntity action reloads a
	// record after a version conflict. Zero means 3.
	ConflictRetries int
}

// Runner evaluates change events against a rule set.
type Runner struct {
	store   types.EntityStore
	rules   *Rules
	onMatch func(Match)
	retries int
	logger  *zap.Logger
}

// NewRunner returns a Runner that reads records from and writes actions to
// store.
func NewRunner(store types.EntityStore, rules *Rules, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = defaultConflictRetries
	}
	return &Runner{
		store:   store,
		rules:   rules,
		onMatch: opts.OnMatch,
		retries: opts.ConflictRetries,
		logger:  logger.Named("trigger"),
	}
}

// Process evaluates one event. It returns the rules that fired. Action
// failures are reported in each Match, not as the returned error.
func (r *Runner) Process(ctx context.Context, ev types.Event) ([]Match, error) {
	if ev.Type == types.EventDeleted || strings.HasPrefix(ev.Actor, ActorPrefix) {
		return nil, nil
	}
	rules := r.rules.For(ev.EntityType)
	if len(rules) == 0 {
		return nil, nil
	}
	rec, err := r.store.Get(ctx, ev.ID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// A newer event for the same record will be evaluated on its own.
	if rec.Version != ev.Version {
		r.logger.Debug("event superseded", zap.String("id", ev.ID),
			zap.Int64("event_version", ev.Version), zap.Int64("version", rec.Version))
		return nil, nil
	}

	var matches []Match
	for _, rule := range rules {
		_, filter, _ := SplitQuery(rule.SourceQuery)
		if !types.MatchFields(filter)(rec) {
			continue
		}
		m := Match{Rule: rule, Event: ev, Record: rec}
		actor := ActorPrefix + rule.ID
		for _, a := range rule.Actions {
			m.Results = append(m.Results, r.execute(ctx, a, actor))
		}
		r.logger.Info("trigger fired",
			zap.String("rule", rule.ID),
			zap.String("entity_type", ev.EntityType),
			zap.String("id", ev.ID),
			zap.Int64("version", ev.Version))
		if r.onMatch != nil {
			r.onMatch(m)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (r *Runner) execute(ctx context.Context, a Action, actor string) ActionResult {
	res := ActionResult{Action: a}
	switch a.Type {
	case ActionCreate:
		rec, err := r.store.Create(ctx, a.EntityType, types.CloneFields(a.Payload), actor)
		if err != nil {
			res.Err = err
			break
		}
		res.Records = append(res.Records, rec)
	case ActionUpdate:
		typ, filter, _ := SplitQuery(a.Query)
		var targets []*types.Record
		for rec, err := range r.store.List(ctx, typ, types.MatchFields(filter)) {
			if err != nil {
				res.Err = err
				break
			}
			targets = append(targets, rec)
		}
		if res.Err != nil {
			break
		}
		for _, target := range targets {
			rec, err := r.update(ctx, target, a.Payload, actor)
			if err != nil {
				res.Err = errors.Join(res.Err, err)
				continue
			}
			res.Records = append(res.Records, rec)
		}
	}
	if res.Err != nil {
		r.logger.Warn("trigger action failed", zap.String("action", a.Type), zap.Error(res.Err))
	}
	return res
}

// update patches target, reloading and retrying when another writer
// commits first.
func (r *Runner) update(ctx context.Context, target *types.Record, patch map[string]any, actor string) (*types.Record, error) {
	cur := target
	for attempt := 0; ; attempt++ {
		rec, err := r.store.Update(ctx, cur.ID, types.CloneFields(patch), cur.Version, actor)
		if err == nil || !types.IsVersionConflict(err) || attempt >= r.retries {
			return rec, err
		}
		if cur, err = r.store.Get(ctx, cur.ID); err != nil {
			return nil, err
		}
	}
}

// Run processes events from sub until ctx is done or the feed closes. A
// closed feed ends Run without error.
func (r *Runner) Run(ctx context.Context, sub *feed.Subscription) error {
	for ev, err := range sub.Events(ctx) {
		if errors.Is(err, types.ErrStoreClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := r.Process(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Drain processes every event up to the feed's current end, including
// events appended by the actions it runs.
func (r *Runner) Drain(ctx context.Context, sub *feed.Subscription, f *feed.Feed) error {
	for sub.Position() <= f.LastSeq() {
		ev, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if _, err := r.Process(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
