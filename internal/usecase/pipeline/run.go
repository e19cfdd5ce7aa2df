package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/graphdb"
	"kgload/internal/infrastructure/neo4jadmin"
	"kgload/internal/infrastructure/watch"
	"kgload/internal/manifest"
	"kgload/internal/ports"
	"kgload/internal/usecase/transform"
)

type LoadInput struct {
	ManifestPath     string
	ConfirmOverwrite bool
	// SkipTransforms imports the files named by the manifest as they are.
	SkipTransforms bool
	// SkipImport stops after the transforms.
	SkipImport bool
	// Force reruns transforms whose inputs did not change.
	Force bool
	// SkipVerify accepts an import with neither a store directory nor a
	// count query to check it against.
	SkipVerify bool
}

type LoadResult struct {
	RunID   string
	Dataset string
	Stages  []ports.StageResult
	Import  *neo4jadmin.Result
	Store   []neo4jadmin.Artifact
	Counts  *ports.GraphCounts
}

// run carries the state of one Load call.
type run struct {
	record   ports.PipelineRun
	manifest *manifest.Manifest
	in       LoadInput
	result   LoadResult
	probe    ports.GraphProbe
}

// Load runs the manifest at in.ManifestPath. The returned error is labeled
// with the failing stage and maps onto an exit code through kgload.ExitCode.
func (s *Service) Load(ctx context.Context, in LoadInput) (LoadResult, error) {
	if ctx == nil {
		return LoadResult{}, errContextRequired
	}
	if strings.TrimSpace(in.ManifestPath) == "" {
		return LoadResult{}, kgload.AtStage(kgload.StagePreflight, errManifestRequired)
	}

	m, err := manifest.Load(in.ManifestPath)
	if err != nil {
		return LoadResult{}, kgload.AtStage(kgload.StagePreflight, err)
	}

	r := &run{
		manifest: m,
		in:       in,
		record: ports.PipelineRun{
			RunID:     s.newID(),
			Dataset:   m.Dataset,
			Manifest:  in.ManifestPath,
			Status:    ports.RunStatusRunning,
			StartedAt: s.now(),
		},
	}
	r.result.RunID = r.record.RunID
	r.result.Dataset = m.Dataset

	ctx = logging.WithAttrs(ctx,
		slog.String("component", "pipeline"),
		slog.String("run_id", r.record.RunID),
		slog.String("dataset", m.Dataset))
	logging.Info(ctx, "pipeline run started", slog.String("manifest", in.ManifestPath))

	s.record(ctx, "create run", func(ctx context.Context) error {
		return s.runs.CreateRun(ctx, r.record)
	})
	s.publish(ctx, ports.RunEvent{Type: ports.EventRunStarted, RunID: r.record.RunID, Dataset: m.Dataset})

	err = s.execute(ctx, r)
	if r.probe != nil {
		if cerr := r.probe.Close(context.WithoutCancel(ctx)); cerr != nil {
			logging.Warn(ctx, "close bolt probe", slog.Any("err", errs.Loggable(cerr)))
		}
	}
	s.finish(ctx, r, err)
	return r.result, err
}

func (s *Service) execute(ctx context.Context, r *run) error {
	m := r.manifest
	doImport := m.HasImport() && !r.in.SkipImport
	plan := m.Plan(s.settings.Admin)

	if err := s.preflight(ctx, r, doImport, plan); err != nil {
		return err
	}
	if !r.in.SkipTransforms {
		if err := s.transforms(ctx, r); err != nil {
			return err
		}
	}
	if !doImport {
		logging.Info(ctx, "no import requested, stopping after transforms")
		return nil
	}
	if err := s.importStage(ctx, r, plan); err != nil {
		return err
	}
	if err := s.verify(ctx, r); err != nil {
		return err
	}
	return s.applySchema(ctx, r)
}

// preflight refuses an unconfirmed overwrite, optionally waits for the
// inputs and then requires every input not produced by an earlier step.
// Nothing is written before it passes.
func (s *Service) preflight(ctx context.Context, r *run, doImport bool, plan neo4jadmin.Plan) error {
	ctx = logging.WithAttrs(ctx, slog.String("stage", kgload.StagePreflight))
	start := time.Now()
	fail := func(err error) error {
		err = kgload.AtStage(kgload.StagePreflight, err)
		s.stage(ctx, r, stageResult(kgload.StagePreflight, "", start, err))
		return err
	}

	if doImport {
		if err := neo4jadmin.CheckOverwrite(plan.Options, r.in.ConfirmOverwrite); err != nil {
			logging.Error(ctx, "overwrite requested without confirmation")
			return fail(err)
		}
		if s.settings.StoreDir == "" && !s.settings.QueryCounts && !r.in.SkipVerify {
			logging.Error(ctx, "import requested with nothing to verify it against")
			return fail(errNoVerification)
		}
	}

	inputs := sourceInputs(r.manifest, doImport, r.in.SkipTransforms)
	if w := r.manifest.Wait; w != nil && len(inputs) > 0 {
		targets := make([]watch.Target, 0, len(inputs))
		for _, f := range inputs {
			targets = append(targets, watch.Target{Role: f.Role, Path: f.Path})
		}
		opts := watch.Options{
			Timeout: time.Duration(w.TimeoutSeconds) * time.Second,
			Settle:  time.Duration(w.SettleSeconds) * time.Second,
		}
		if err := watch.WaitForFiles(ctx, targets, opts); err != nil {
			return fail(err)
		}
	}
	if err := transform.RequireFiles(inputs...); err != nil {
		logging.Error(ctx, "inputs missing", slog.Any("err", errs.Loggable(err)))
		return fail(err)
	}

	res := stageResult(kgload.StagePreflight, "", start, nil)
	res.RowsIn = int64(len(inputs))
	res.Detail = fmt.Sprintf("%d inputs present", len(inputs))
	s.stage(ctx, r, res)
	return nil
}

// importStage stops the service, runs the import and starts the service
// again. A failed import still restarts the service so the old database
// stays reachable.
func (s *Service) importStage(ctx context.Context, r *run, plan neo4jadmin.Plan) error {
	start := time.Now()
	if err := neo4jadmin.CheckPlan(plan, s.settings.CSV); err != nil {
		err = kgload.AtStage(kgload.StageImport, err)
		s.stage(ctx, r, stageResult(kgload.StageImport, "", start, err))
		return err
	}

	start = time.Now()
	if err := s.lifecycle.Stop(ctx); err != nil {
		err = kgload.AtStage(kgload.StageStop, err)
		s.stage(ctx, r, stageResult(kgload.StageStop, "", start, err))
		return err
	}
	s.stage(ctx, r, stageResult(kgload.StageStop, "", start, nil))

	start = time.Now()
	res, importErr := s.importer.Import(ctx, plan)
	r.result.Import = &res
	imp := stageResult(kgload.StageImport, "", start, importErr)
	if res.Summary.Nodes >= 0 && res.Summary.Relationships >= 0 {
		imp.RowsOut = res.Summary.Nodes + res.Summary.Relationships
		imp.Detail = fmt.Sprintf("nodes=%d relationships=%d", res.Summary.Nodes, res.Summary.Relationships)
		if importErr != nil {
			imp.Detail += "; " + importErr.Error()
		}
	}
	s.stage(ctx, r, imp)

	start = time.Now()
	startErr := s.lifecycle.Start(context.WithoutCancel(ctx))
	if startErr != nil {
		startErr = kgload.AtStage(kgload.StageStart, startErr)
	}
	s.stage(ctx, r, stageResult(kgload.StageStart, "", start, startErr))

	if importErr != nil {
		if startErr != nil {
			logging.Warn(ctx, "service restart after failed import also failed", slog.Any("err", errs.Loggable(startErr)))
		}
		return importErr
	}
	if startErr != nil {
		return startErr
	}

	start = time.Now()
	err := s.lifecycle.WaitHealthy(ctx, s.settings.HealthTimeout)
	if err != nil {
		err = kgload.AtStage(kgload.StageHealth, err)
	}
	s.stage(ctx, r, stageResult(kgload.StageHealth, "", start, err))
	return err
}

func (s *Service) verify(ctx context.Context, r *run) error {
	ctx = logging.WithAttrs(ctx, slog.String("stage", kgload.StageVerify))
	start := time.Now()
	res := stageResult(kgload.StageVerify, "", start, nil)

	checked := false
	if s.settings.StoreDir != "" {
		artifacts := neo4jadmin.StoreArtifacts(s.settings.StoreDir, s.settings.NodeStore, s.settings.RelationshipStore)
		found, err := neo4jadmin.VerifyStore(ctx, artifacts)
		r.result.Store = found
		if err != nil {
			s.stage(ctx, r, stageResult(kgload.StageVerify, "store", start, err))
			return err
		}
		var parts []string
		for _, a := range found {
			parts = append(parts, fmt.Sprintf("%s=%d", a.Name, a.Size))
		}
		res.Detail = strings.Join(parts, " ")
		checked = true
	}

	if s.settings.QueryCounts {
		counts, err := s.counts(ctx, r)
		if err == nil {
			r.result.Counts = &counts
			err = checkCounts(counts, len(r.manifest.Relationships) > 0)
		}
		if err != nil {
			err = kgload.AtStage(kgload.StageVerify, err)
			s.stage(ctx, r, stageResult(kgload.StageVerify, "counts", start, err))
			return err
		}
		res.RowsOut = counts.Nodes + counts.Relationships
		res.Detail = strings.TrimSpace(res.Detail + fmt.Sprintf(" nodes=%d relationships=%d", counts.Nodes, counts.Relationships))
		checked = true
	}

	if !checked {
		logging.Warn(ctx, "verification skipped on request")
		res.Status = ports.StageStatusSkipped
		res.Detail = "skip-verify"
	}
	res.Duration = time.Since(start)
	s.stage(ctx, r, res)
	return nil
}

func (s *Service) counts(ctx context.Context, r *run) (ports.GraphCounts, error) {
	probe, err := s.openProbe(r)
	if err != nil {
		return ports.GraphCounts{}, err
	}
	return probe.Counts(ctx)
}

func checkCounts(c ports.GraphCounts, wantRelationships bool) error {
	if c.Nodes == 0 {
		return &kgload.VerificationFailure{Artifact: "graph", Path: "bolt", Reason: "database has no nodes"}
	}
	if wantRelationships && c.Relationships == 0 {
		return &kgload.VerificationFailure{Artifact: "graph", Path: "bolt", Reason: "database has no relationships"}
	}
	return nil
}

func (s *Service) applySchema(ctx context.Context, r *run) error {
	statements := append([]string(nil), r.manifest.Schema.Statements...)
	if r.manifest.Schema.File != "" {
		more, err := graphdb.LoadStatements(r.manifest.Schema.File)
		if err != nil {
			err = kgload.AtStage(kgload.StageSchema, err)
			s.stage(ctx, r, stageResult(kgload.StageSchema, "", time.Now(), err))
			return err
		}
		statements = append(statements, more...)
	}
	if len(statements) == 0 {
		return nil
	}

	start := time.Now()
	probe, err := s.openProbe(r)
	if err == nil {
		err = probe.Apply(ctx, statements)
	}
	if err != nil {
		err = kgload.AtStage(kgload.StageSchema, err)
	}
	res := stageResult(kgload.StageSchema, "", start, err)
	res.RowsIn = int64(len(statements))
	s.stage(ctx, r, res)
	return err
}

func (s *Service) openProbe(r *run) (ports.GraphProbe, error) {
	if r.probe != nil {
		return r.probe, nil
	}
	if s.probe == nil {
		return nil, errNoProbe
	}
	p, err := s.probe()
	if err != nil {
		return nil, err
	}
	r.probe = p
	return p, nil
}

// stage appends res to the result, the ledger and the event stream.
func (s *Service) stage(ctx context.Context, r *run, res ports.StageResult) {
	res.RunID = r.record.RunID
	res.RecordedAt = s.now()
	r.result.Stages = append(r.result.Stages, res)

	s.record(ctx, "append stage", func(ctx context.Context) error {
		return s.runs.AppendStage(ctx, res)
	})
	s.publish(ctx, ports.RunEvent{
		Type:    ports.EventStageDone,
		RunID:   r.record.RunID,
		Dataset: r.record.Dataset,
		Stage:   res.Stage,
		Status:  res.Status,
		Error:   errorDetail(res),
		Counters: map[string]int64{
			"rows_in":  res.RowsIn,
			"rows_out": res.RowsOut,
			"bad_rows": res.BadRows,
			"dropped":  res.Dropped,
		},
		Labels: map[string]string{"name": res.Name},
	})
}

func (s *Service) finish(ctx context.Context, r *run, err error) {
	finished := s.now()
	r.record.FinishedAt = &finished
	r.record.Status = ports.RunStatusSucceeded
	if err != nil {
		r.record.Status = ports.RunStatusFailed
		r.record.ErrorStage = kgload.StageOf(err)
		r.record.ErrorCategory = kgload.Category(err)
		r.record.ErrorMessage = err.Error()
	}

	s.record(ctx, "finish run", func(ctx context.Context) error {
		return s.runs.FinishRun(ctx, r.record)
	})
	s.publish(ctx, ports.RunEvent{
		Type:    ports.EventRunFinished,
		RunID:   r.record.RunID,
		Dataset: r.record.Dataset,
		Stage:   r.record.ErrorStage,
		Status:  r.record.Status,
		Error:   r.record.ErrorMessage,
	})

	elapsed := finished.Sub(r.record.StartedAt)
	if err != nil {
		logging.Error(ctx, "pipeline run failed",
			slog.String("category", r.record.ErrorCategory),
			slog.Duration("duration", elapsed),
			slog.Any("err", errs.Loggable(err)))
		return
	}
	logging.Info(ctx, "pipeline run finished", slog.Int("stages", len(r.result.Stages)), slog.Duration("duration", elapsed))
}

func stageResult(stage, name string, start time.Time, err error) ports.StageResult {
	res := ports.StageResult{
		Stage:    stage,
		Name:     name,
		Status:   ports.StageStatusOK,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Status = ports.StageStatusFailed
		res.Detail = err.Error()
	}
	return res
}

func errorDetail(res ports.StageResult) string {
	if res.Status != ports.StageStatusFailed {
		return ""
	}
	return res.Detail
}
