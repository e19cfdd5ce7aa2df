package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/neo4jadmin"
	"kgload/internal/manifest"
	"kgload/internal/ports"
	"kgload/internal/usecase/transform"
)

type CheckInput struct {
	ManifestPath     string
	ConfirmOverwrite bool
	SkipTransforms   bool
}

// CheckReport describes what a load of the manifest would do.
type CheckReport struct {
	Dataset string
	Inputs  []transform.InputFile
	Steps   []string
	Program string
	Args    []string
	// HeadersChecked is false when the import files are produced by steps
	// that have not run yet.
	HeadersChecked bool
}

// Check runs the preflight of a load without writing anything: manifest
// validation, the overwrite gate, input presence and, when the import files
// already exist, header alignment.
func (s *Service) Check(ctx context.Context, in CheckInput) (CheckReport, error) {
	if ctx == nil {
		return CheckReport{}, errContextRequired
	}
	if strings.TrimSpace(in.ManifestPath) == "" {
		return CheckReport{}, kgload.AtStage(kgload.StagePreflight, errManifestRequired)
	}
	m, err := manifest.Load(in.ManifestPath)
	if err != nil {
		return CheckReport{}, kgload.AtStage(kgload.StagePreflight, err)
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "pipeline"), slog.String("dataset", m.Dataset))

	report := CheckReport{Dataset: m.Dataset}
	if !in.SkipTransforms {
		for _, st := range s.steps(m) {
			report.Steps = append(report.Steps, st.stage+"/"+st.name)
		}
	}

	plan := m.Plan(s.settings.Admin)
	if m.HasImport() {
		if err := neo4jadmin.CheckOverwrite(plan.Options, in.ConfirmOverwrite); err != nil {
			return report, kgload.AtStage(kgload.StagePreflight, err)
		}
		program, args, err := plan.Command()
		if err != nil {
			return report, kgload.AtStage(kgload.StageImport, err)
		}
		report.Program, report.Args = program, args
	}

	report.Inputs = sourceInputs(m, m.HasImport(), in.SkipTransforms)
	if err := transform.RequireFiles(report.Inputs...); err != nil {
		return report, kgload.AtStage(kgload.StagePreflight, err)
	}

	if m.HasImport() && allExist(planFiles(plan)) {
		if err := neo4jadmin.CheckPlan(plan, s.settings.CSV); err != nil {
			return report, kgload.AtStage(kgload.StageImport, err)
		}
		report.HeadersChecked = true
	}
	logging.Info(ctx, "manifest check passed",
		slog.Int("inputs", len(report.Inputs)),
		slog.Int("steps", len(report.Steps)),
		slog.Bool("headers_checked", report.HeadersChecked))
	return report, nil
}

func planFiles(plan neo4jadmin.Plan) []string {
	var files []string
	for _, g := range plan.Nodes {
		files = append(files, g.Paths()...)
	}
	for _, g := range plan.Relationships {
		files = append(files, g.Paths()...)
	}
	return files
}

type VerifyResult struct {
	Store  []neo4jadmin.Artifact
	Counts *ports.GraphCounts
}

// Verify checks an existing store outside a run. storeDir overrides the
// configured verify.store_dir.
func (s *Service) Verify(ctx context.Context, storeDir string, withCounts bool) (VerifyResult, error) {
	if ctx == nil {
		return VerifyResult{}, errContextRequired
	}
	if storeDir == "" {
		storeDir = s.settings.StoreDir
	}
	if storeDir == "" && !withCounts {
		return VerifyResult{}, kgload.AtStage(kgload.StageVerify, errs.Wrap(kgload.ErrInvalidConfig, "no store directory given"))
	}

	var out VerifyResult
	if storeDir != "" {
		artifacts := neo4jadmin.StoreArtifacts(storeDir, s.settings.NodeStore, s.settings.RelationshipStore)
		found, err := neo4jadmin.VerifyStore(ctx, artifacts)
		out.Store = found
		if err != nil {
			return out, kgload.AtStage(kgload.StageVerify, err)
		}
	}
	if withCounts {
		counts, err := s.Ping(ctx)
		if err == nil {
			out.Counts = &counts
			err = checkCounts(counts, false)
		}
		if err != nil {
			return out, kgload.AtStage(kgload.StageVerify, err)
		}
	}
	return out, nil
}

// Ping opens a Bolt session, checks connectivity and returns the graph
// counts.
func (s *Service) Ping(ctx context.Context) (ports.GraphCounts, error) {
	if ctx == nil {
		return ports.GraphCounts{}, errContextRequired
	}
	if s.probe == nil {
		return ports.GraphCounts{}, errs.Wrap(kgload.ErrInvalidConfig, errNoProbe.Error())
	}
	probe, err := s.probe()
	if err != nil {
		return ports.GraphCounts{}, err
	}
	defer func() {
		if cerr := probe.Close(context.WithoutCancel(ctx)); cerr != nil {
			logging.Warn(ctx, "close bolt probe", slog.Any("err", errs.Loggable(cerr)))
		}
	}()
	if err := probe.Ping(ctx); err != nil {
		return ports.GraphCounts{}, err
	}
	return probe.Counts(ctx)
}
