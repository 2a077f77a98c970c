package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/database"
	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/tracking"
	"github.com/spf13/cobra"
)

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "Inspect and name stored identities",
}

var peopleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored identities",
	Args:  cobra.NoArgs,
	RunE:  runPeopleList,
}

var peopleRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Set the display name of an identity",
	Long:  `Set the display name of a stored identity. An empty name ("") clears it.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runPeopleRename,
}

var peopleShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one identity and its fingerprints",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeopleShow,
}

var peopleExportCmd = &cobra.Command{
	Use:   "export <id> <file>",
	Short: "Export an identity with its fingerprints as JSON",
	Long:  `Export a stored identity, fingerprint vectors and thumbnails included, as JSON. Use "-" as file to write to stdout.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runPeopleExport,
}

var peopleDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List identities that are probably the same person",
	Long: `List pairs of identities whose mean fingerprints are closer than the
threshold (MATCH_THRESHOLD unless --threshold is given), nearest first.`,
	Args: cobra.NoArgs,
	RunE: runPeopleDuplicates,
}

var peopleMergeCmd = &cobra.Command{
	Use:   "merge <keep-id> <absorb-id>...",
	Short: "Merge identities into one",
	Long: `Fold the fingerprints of the absorbed identities into the kept one. Absorbed
identities stay stored without fingerprints and never match again.`,
	Example: `  people-tracker people duplicates
  people-tracker people merge 3 7 12`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPeopleMerge,
}

func init() {
	rootCmd.AddCommand(peopleCmd)
	peopleCmd.AddCommand(peopleListCmd)
	peopleCmd.AddCommand(peopleRenameCmd)
	peopleCmd.AddCommand(peopleShowCmd)
	peopleCmd.AddCommand(peopleExportCmd)
	peopleCmd.AddCommand(peopleDuplicatesCmd)
	peopleCmd.AddCommand(peopleMergeCmd)

	peopleListCmd.Flags().String("name", "", "Only identities whose normalized name matches")
	peopleDuplicatesCmd.Flags().Float64("threshold", 0, "Mean distance below which identities are reported (default MATCH_THRESHOLD)")
}

// loadEngine restores stored identities into an engine for offline use.
func loadEngine(cmd *cobra.Command) (*tracking.Engine, *config.Config, func(), error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Database.Backend == "none" {
		return nil, nil, nil, errors.New("no identity backend configured (DATABASE_BACKEND=none)")
	}
	repo, err := openRepository(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	store := tracking.Restore(cmd.Context(), repo, cfg.Tracking.FingerprintDim, logger)
	engine := tracking.NewEngine(store, tracking.OptionsFromConfig(cfg.Tracking), repo, logger, nil)
	return engine, cfg, func() { _ = repo.Close() }, nil
}

func parseIdentityID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid identity ID %q", arg)
	}
	return id, nil
}

func nameOrDash(name string) string {
	if name == "" {
		return "-"
	}
	return name
}

func runPeopleList(cmd *cobra.Command, args []string) error {
	engine, _, done, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer done()

	var snaps []identity.Snapshot
	if name := mustGetString(cmd, "name"); name != "" {
		snaps = engine.FindByName(name)
	} else {
		snaps = engine.Identities()
	}
	if len(snaps) == 0 {
		fmt.Println("No identities stored")
		return nil
	}

	fmt.Printf("%-6s  %-30s  %-12s  %s\n", "ID", "NAME", "FINGERPRINTS", "CREATED")
	for _, s := range snaps {
		fmt.Printf("%-6d  %-30s  %-12d  %s\n", s.ID, nameOrDash(s.DisplayName), s.Fingerprints, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\nTotal: %d\n", len(snaps))
	return nil
}

func runPeopleRename(cmd *cobra.Command, args []string) error {
	id, err := parseIdentityID(args[0])
	if err != nil {
		return err
	}

	engine, _, done, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer done()

	snap, err := engine.SetDisplayName(cmd.Context(), id, args[1])
	if err != nil {
		return err
	}
	// SetDisplayName logs save failures and leaves the identity dirty.
	if failed := engine.Flush(cmd.Context()); failed > 0 {
		return fmt.Errorf("identity %d could not be saved", id)
	}
	if snap.DisplayName == "" {
		fmt.Printf("Cleared name of identity %d\n", id)
	} else {
		fmt.Printf("Identity %d is now %q\n", id, snap.DisplayName)
	}
	return nil
}

func runPeopleShow(cmd *cobra.Command, args []string) error {
	id, err := parseIdentityID(args[0])
	if err != nil {
		return err
	}
	engine, _, done, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer done()

	snap, ok := engine.Identity(id)
	record, _ := engine.Record(id)
	if !ok {
		return fmt.Errorf("identity %d: %w", id, identity.ErrUnknownIdentity)
	}
	printIdentity(os.Stdout, snap, record.Fingerprints)
	return nil
}

func printIdentity(w io.Writer, snap identity.Snapshot, fps []database.StoredFingerprint) {
	fmt.Fprintf(w, "ID:           %d\n", snap.ID)
	fmt.Fprintf(w, "Name:         %s\n", nameOrDash(snap.DisplayName))
	fmt.Fprintf(w, "Created:      %s\n", snap.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Last seen:    %s\n", snap.LastSeen.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Fingerprints: %d\n", len(fps))
	for n, fp := range fps {
		box := "-"
		if len(fp.BBox) == 4 {
			box = fmt.Sprintf("[%.0f %.0f %.0f %.0f]", fp.BBox[0], fp.BBox[1], fp.BBox[2], fp.BBox[3])
		}
		fmt.Fprintf(w, "  #%-3d dim %-4d box %-22s thumbnail %d bytes\n", n, len(fp.Vector), box, len(fp.Thumbnail))
	}
}

// identityExport is the JSON document written by "people export".
type identityExport struct {
	Identity     identity.Snapshot   `json:"identity"`
	Fingerprints []fingerprintExport `json:"fingerprints"`
}

type fingerprintExport struct {
	Vector    []float32 `json:"vector"`
	BBox      []float64 `json:"bbox,omitempty"`
	Thumbnail []byte    `json:"thumbnail_jpeg,omitempty"`
}

// exportIdentity writes one identity as indented JSON to path, or to stdout
// when path is "-".
func exportIdentity(engine *tracking.Engine, id int64, path string) (err error) {
	snap, ok := engine.Identity(id)
	record, _ := engine.Record(id)
	if !ok {
		return fmt.Errorf("identity %d: %w", id, identity.ErrUnknownIdentity)
	}

	doc := identityExport{Identity: snap, Fingerprints: make([]fingerprintExport, 0, len(record.Fingerprints))}
	for _, fp := range record.Fingerprints {
		doc.Fingerprints = append(doc.Fingerprints, fingerprintExport{Vector: fp.Vector, BBox: fp.BBox, Thumbnail: fp.Thumbnail})
	}

	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create export: %w", err)
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("close export: %w", cerr)
			}
		}()
		w = f
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("encoding identity %d: %w", id, err)
	}
	return nil
}

func runPeopleExport(cmd *cobra.Command, args []string) error {
	id, err := parseIdentityID(args[0])
	if err != nil {
		return err
	}
	engine, _, done, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer done()

	if err := exportIdentity(engine, id, args[1]); err != nil {
		return err
	}
	if args[1] != "-" {
		fmt.Printf("Exported identity %d to %s\n", id, args[1])
	}
	return nil
}

func runPeopleDuplicates(cmd *cobra.Command, args []string) error {
	engine, cfg, done, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer done()

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = cfg.Tracking.MatchThreshold
	}
	pairs := engine.FindDuplicates(threshold)
	if len(pairs) == 0 {
		fmt.Printf("No identities closer than %.3f\n", threshold)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DISTANCE\tID\tNAME\tID\tNAME")
	for _, p := range pairs {
		fmt.Fprintf(w, "%.4f\t%d\t%s\t%d\t%s\n", p.Distance, p.A.ID, nameOrDash(p.A.DisplayName), p.B.ID, nameOrDash(p.B.DisplayName))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d\n", len(pairs))
	return nil
}

func runPeopleMerge(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseIdentityID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	engine, _, done, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer done()

	snap, err := engine.Merge(cmd.Context(), ids[0], ids[1:]...)
	if err != nil {
		return err
	}
	absorbed := make([]string, 0, len(ids)-1)
	for _, id := range ids[1:] {
		absorbed = append(absorbed, strconv.FormatInt(id, 10))
	}
	fmt.Printf("Merged %s into identity %d (%d fingerprints)\n", strings.Join(absorbed, ", "), snap.ID, snap.Fingerprints)
	return nil
}
