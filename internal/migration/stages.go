package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brensch/migrobot/internal/archive"
	"github.com/brensch/migrobot/internal/counters"
	"github.com/brensch/migrobot/internal/layout"
)

// Stage names as they appear in logs, the event log and failure records.
const (
	StagePreconditions     = "precondition_checks"
	StagePassword          = "read_password"
	StageDirs              = "ensure_dirs"
	StageExtract           = "extract_archive"
	StageRelocate          = "relocate_artifacts"
	StageIndexVsZips       = "reconcile_index_vs_zips"
	StageRunJob            = "run_job"
	StageLocateCmd         = "locate_cmd"
	StageCmdVsDocs         = "reconcile_cmd_vs_docs"
	StageCountersVsCmd     = "reconcile_counters_vs_cmd"
	StageExecCmd           = "exec_cmd"
	StageResolveTargets    = "resolve_targets"
	StageCmdVsDossiers     = "reconcile_cmd_vs_dossiers"
	StageCountersVsDossier = "reconcile_counters_vs_dossiers"
	StageRename            = "rename_dossiers"
	StageCompress          = "compress"
	StageUpload            = "upload"
)

func (o *Orchestrator) pdolStages() []stage {
	return []stage{
		{StagePreconditions, o.stagePreconditions},
		{StagePassword, o.stagePassword},
		{StageDirs, o.stageDirs(false)},
		{StageExtract, o.stageExtractSFX},
		{StageRelocate, o.pdolRelocateIndex},
		{StageRunJob, o.stageRunJob},
		{StageLocateCmd, o.stageLocateCmd(true)},
		{StageCmdVsDocs, o.pdolCmdVsDocs},
		{StageExecCmd, o.stageExecScripts},
		{StageResolveTargets, o.pdolResolveTargets},
		{StageCmdVsDossiers, o.stageCmdVsDossiers},
		{StageRename, o.stageRenameTargets},
		{StageCompress, o.stageCompress},
		{StageUpload, o.stageUpload},
	}
}

func (o *Orchestrator) sdolStages() []stage {
	return []stage{
		{StagePreconditions, o.stagePreconditions},
		{StagePassword, o.stagePassword},
		{StageDirs, o.stageDirs(true)},
		{StageExtract, o.stageExtractSFX},
		{StageRelocate, o.sdolUnpackAndRelocate},
		{StageIndexVsZips, o.sdolIndexVsZips},
		{StageRunJob, o.stageRunJob},
		{StageLocateCmd, o.stageLocateCmd(false)},
		{StageCountersVsCmd, o.sdolCountersVsCmd},
		{StageExecCmd, o.stageExecScripts},
		{StageResolveTargets, o.sdolResolveTargets},
		{StageCountersVsDossier, o.sdolCountersVsDossiers},
		{StageRename, o.stageRenameTargets},
		{StageCompress, o.stageCompress},
		{StageUpload, o.stageUpload},
	}
}

func (o *Orchestrator) mlmStages() []stage {
	return []stage{
		{StagePreconditions, o.stagePreconditions},
		{StagePassword, o.stagePassword},
		{StageDirs, o.stageDirs(false)},
		{StageExtract, o.stageExtractSplit},
		{StageRelocate, o.mlmRelocateBestanden},
		{StageRunJob, o.stageRunJob},
		{StageLocateCmd, o.stageLocateCmd(true)},
		{StageExecCmd, o.stageExecScripts},
		{StageResolveTargets, o.mlmResolveTarget},
		{StageCmdVsDossiers, o.stageCmdVsDossiers},
		{StageRename, o.stageRenameTargets},
		{StageCompress, o.stageCompress},
		{StageUpload, o.stageUpload},
	}
}

// --- Extraction ---

func (o *Orchestrator) stageExtractSFX(ctx context.Context, st *state) error {
	files, err := archive.FindArchives(o.resolver.MigDir(st.customer, o.kind), o.kind.ArchivePattern())
	if errors.Is(err, archive.ErrNoArchive) {
		return fail(ArtifactFailure, err, "self-extracting archive")
	}
	if err != nil {
		return err
	}
	st.logger.Info("Unpacking archives.", "count", len(files))
	if err := o.deps.Archives.ExtractSFX(ctx, files, st.docsDir, st.password); err != nil {
		return extractionFailure(ctx, err)
	}
	return nil
}

func (o *Orchestrator) stageExtractSplit(ctx context.Context, st *state) error {
	start, err := archive.FindSplitStart(o.resolver.MigDir(st.customer, o.kind), o.kind.ArchivePattern())
	if err != nil {
		return fail(ArtifactFailure, err, "split archive first volume")
	}
	st.logger.Info("Unpacking split archive.", "start", filepath.Base(start))
	if err := o.deps.Archives.ExtractSplit(ctx, start, st.docsDir, st.password); err != nil {
		return extractionFailure(ctx, err)
	}
	return nil
}

func extractionFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return fail(ExecutionFailure, err, "unpacking archive")
}

// --- Command scripts ---

func (o *Orchestrator) stageLocateCmd(single bool) func(context.Context, *state) error {
	return func(_ context.Context, st *state) error {
		files, err := counters.FindCmdFiles(o.resolver.CustomerDir(st.customer))
		if err != nil {
			return err
		}
		switch {
		case len(files) == 0:
			return fail(ArtifactFailure, nil, "no cmd file generated")
		case single && len(files) > 1:
			return fail(ArtifactFailure, nil, "expected one cmd file, found %d", len(files))
		}
		st.cmdFiles = files
		st.moveRows = 0
		for _, f := range files {
			n, err := counters.CountMoveRows(f)
			if err != nil {
				return err
			}
			st.moveRows += n
		}
		st.logger.Info("Cmd files located.", "count", len(files), "move_rows", st.moveRows)
		return nil
	}
}

func readScript(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read cmd file %s: %w", path, err)
	}
	return string(raw), nil
}

// --- Shared reconciliation ---

func (o *Orchestrator) stageCmdVsDossiers(_ context.Context, st *state) error {
	files := 0
	for _, root := range st.countRoots() {
		n, err := counters.CountFilesRecursive(root)
		if err != nil {
			return err
		}
		files += n
	}
	res := o.deps.Reconciler.CmdVsDossiers(o.kind, st.moveRows, files)
	st.result.Missing = res.Missing
	return o.recordCheck(st, res)
}

// countRoots returns the folders whose files make up the e-dossier count.
// When targets share a parent holding the tool's artifacts, that parent is
// counted once instead of each target.
func (st *state) countRoots() []string {
	if st.artifactRoot != "" {
		return []string{st.artifactRoot}
	}
	roots := make([]string, 0, len(st.targets))
	for _, t := range st.targets {
		roots = append(roots, t.path)
	}
	return roots
}

// --- PDOL ---

func (o *Orchestrator) pdolRelocateIndex(_ context.Context, st *state) error {
	src := filepath.Join(st.docsDir, indexFileName)
	dst := filepath.Join(o.resolver.MigDir(st.customer, o.kind), indexFileName)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return fail(ArtifactFailure, err, "%s missing in %s", indexFileName, layout.DocsDirName)
	}
	if err := moveFile(src, dst); err != nil {
		return err
	}
	st.logger.Info("Index file moved.", "to", dst)
	return nil
}

func (o *Orchestrator) pdolCmdVsDocs(_ context.Context, st *state) error {
	docs, err := counters.CountFiles(st.docsDir)
	if err != nil {
		return err
	}
	res, err := o.deps.Reconciler.CmdVsDocs(st.moveRows, docs)
	if err != nil {
		return err
	}
	return o.recordCheck(st, res)
}

// pdolResolveTargets finds the e-dossier folder. When the counters file
// names per-company migration folders inside it, each becomes a separate
// target carrying its company id.
func (o *Orchestrator) pdolResolveTargets(_ context.Context, st *state) error {
	root, err := o.resolveTarget(st)
	if err != nil {
		return err
	}
	if root == "" {
		return fail(ArtifactFailure, nil, "e-dossier target folder not resolved")
	}
	if !isDir(root) {
		return fail(ArtifactFailure, nil, "e-dossier folder %s not created", root)
	}

	st.targets = nil
	st.artifactRoot = ""
	snap, err := o.countersSnapshot(st)
	if err != nil {
		return err
	}
	for _, name := range snap.MigrationFolders(o.kind.MigratedPrefix()) {
		p := filepath.Join(root, name)
		if isDir(p) {
			st.targets = append(st.targets, target{path: p, company: name})
		}
	}
	if len(st.targets) > 0 {
		st.artifactRoot = root
	} else {
		st.targets = []target{{path: root}}
	}
	st.logger.Info("E-dossier folders resolved.", "root", root, "folders", len(st.targets))
	return nil
}

// resolveTarget returns the target from the parameters workbook or the
// single cmd script, or "" when neither names one.
func (o *Orchestrator) resolveTarget(st *state) (string, error) {
	script, err := readScript(st.cmdFiles[0])
	if err != nil {
		return "", err
	}
	p, src, ok, err := o.resolver.TargetPath(st.customer, o.kind, script)
	if err != nil {
		st.logger.Warn("Parameters workbook unreadable, using cmd file.", "error", err)
		p, ok = layout.ResolveTargetPath(o.kind, script)
		src = layout.SourceScript
	}
	if !ok {
		return "", nil
	}
	st.logger.Info("Target path resolved.", "path", p, "source", src)
	return filepath.FromSlash(p), nil
}

// countersSnapshot parses Counters.csv fresh. A missing file yields an empty
// snapshot.
func (o *Orchestrator) countersSnapshot(st *state) (counters.Snapshot, error) {
	p := o.resolver.CountersPath(st.customer, o.kind)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return counters.Snapshot{}, nil
	}
	return counters.ParseFile(p)
}

// --- SDOL ---

func (o *Orchestrator) sdolUnpackAndRelocate(_ context.Context, st *state) error {
	zips, err := archive.UnzipNested(st.docsDir)
	if err != nil {
		return err
	}
	st.zipCount = len(zips)
	st.logger.Info("Nested zips unpacked.", "zips", st.zipCount)

	n, err := relocateIndexFiles(st.docsDir, st.idxDir)
	if err != nil {
		return err
	}
	st.logger.Info("Index files relocated.", "count", n, "to", st.idxDir)
	return nil
}

func (o *Orchestrator) sdolIndexVsZips(_ context.Context, st *state) error {
	idx, err := counters.CountFiles(st.idxDir)
	if err != nil {
		return err
	}
	res, err := o.deps.Reconciler.IndexVsZips(idx, st.zipCount)
	if err != nil {
		return err
	}
	return o.recordCheck(st, res)
}

func (o *Orchestrator) sdolCounters(st *state) (map[string]int, error) {
	p := o.resolver.CountersPath(st.customer, o.kind)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return nil, fail(ArtifactFailure, err, "counters file")
	}
	snap, err := counters.ParseFile(p)
	if err != nil {
		return nil, err
	}
	return snap.PerCompany(), nil
}

func (o *Orchestrator) sdolCountersVsCmd(_ context.Context, st *state) error {
	perCompany, err := o.sdolCounters(st)
	if err != nil {
		return err
	}
	rows, err := counters.MoveRowsPerCompany(st.cmdFiles)
	if err != nil {
		return err
	}
	res, err := o.deps.Reconciler.CountersVsCmd(perCompany, rows)
	if err != nil {
		return err
	}
	return o.recordCheck(st, res)
}

// sdolResolveTargets maps every company id to its dossier folder: the md
// line of the company's cmd file, or <MigDir>/<id> when it carries none.
func (o *Orchestrator) sdolResolveTargets(_ context.Context, st *state) error {
	st.targets = nil
	st.artifactRoot = ""
	seen := map[string]bool{}
	for _, f := range st.cmdFiles {
		id, err := counters.CmdCompanyID(f)
		if err != nil {
			return err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		script, err := readScript(f)
		if err != nil {
			return err
		}
		p, ok := layout.ResolveTargetPath(o.kind, script)
		if ok {
			p = filepath.FromSlash(p)
		} else {
			p = filepath.Join(o.resolver.MigDir(st.customer, o.kind), id)
		}
		st.targets = append(st.targets, target{path: p, company: id})
	}
	st.logger.Info("Company dossier folders resolved.", "companies", len(st.targets))
	return nil
}

func (o *Orchestrator) sdolCountersVsDossiers(_ context.Context, st *state) error {
	perCompany, err := o.sdolCounters(st)
	if err != nil {
		return err
	}
	files := make(map[string]int, len(st.targets))
	for _, t := range st.targets {
		if !isDir(t.path) {
			files[t.company] = 0
			continue
		}
		n, err := counters.CountFilesRecursive(t.path)
		if err != nil {
			return err
		}
		files[t.company] = n
	}
	res, err := o.deps.Reconciler.CountersVsDossiers(perCompany, files)
	if err != nil {
		return err
	}
	return o.recordCheck(st, res)
}

// --- MLM ---

func (o *Orchestrator) mlmRelocateBestanden(_ context.Context, st *state) error {
	found, err := findDirs(st.docsDir, bestandenDirName)
	if err != nil {
		return err
	}
	if len(found) != 1 {
		return fail(ArtifactFailure, nil, "expected one %s folder in %s, found %d", bestandenDirName, layout.DocsDirName, len(found))
	}
	migDir := o.resolver.MigDir(st.customer, o.kind)
	moved, err := moveEntries(filepath.Dir(found[0]), migDir)
	if err != nil {
		return err
	}
	if err := removeEmptyTree(st.docsDir); err != nil {
		return err
	}
	st.logger.Info("Unpacked files moved.", "entries", moved, "to", migDir)
	return nil
}

func (o *Orchestrator) mlmResolveTarget(_ context.Context, st *state) error {
	st.targets = nil
	st.artifactRoot = ""
	p, err := o.resolveTarget(st)
	if err != nil {
		return err
	}
	if p != "" && isDir(p) {
		st.targets = []target{{path: p}}
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(o.resolver.CustomerDir(st.customer), "*"+layout.DossierMarker+"*"))
	if err != nil {
		return fmt.Errorf("search e-dossier folder: %w", err)
	}
	var dirs []string
	for _, m := range matches {
		if isDir(m) {
			dirs = append(dirs, m)
		}
	}
	switch {
	case len(dirs) == 0 && st.moveRows == 0:
		return fail(ArtifactFailure, nil, "blank cmd file, no e-dossier created")
	case len(dirs) == 0:
		return fail(ArtifactFailure, nil, "e-dossier folder not created")
	case len(dirs) > 1:
		return fail(ArtifactFailure, nil, "expected one e-dossier folder, found %d", len(dirs))
	}
	st.targets = []target{{path: dirs[0]}}
	return nil
}
