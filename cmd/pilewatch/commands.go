package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/generator"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	profilesPath string
	historyView  string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create sample piles with a day and a month of readings",
	Long: `Ensure one sample pile per risk level exists and write 24 hourly and
30 daily readings for each. The unknown pile only receives sentinel
readings. Use --profiles to seed piles from a YAML file instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		errFactory := errors.New()
		ctx := cmd.Context()

		profiles := generator.DefaultProfiles()
		if profilesPath != "" {
			var err error
			if profiles, err = generator.LoadProfiles(profilesPath); err != nil {
				return err
			}
		}

		store, err := openStore(ctx)
		if err != nil {
			return errFactory.Wrap(errors.ErrSeedFailed, err)
		}
		defer closeStore(store)

		gen, err := generator.New(store, generatorConfig(), logger.Default().With("generator"))
		if err != nil {
			return errFactory.Wrap(errors.ErrSeedFailed, err)
		}

		n, err := gen.Seed(ctx, profiles, time.Now().In(cfg.Location()))
		if err != nil {
			return err
		}

		logger.Info().Int("piles", len(profiles)).Int("readings", n).Msg("Seeding complete")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored voltage reading",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return errors.New().Wrap(errors.ErrClearFailed, err)
		}
		defer closeStore(store)

		n, err := store.ClearReadings(ctx)
		if err != nil {
			return errors.New().Wrap(errors.ErrClearFailed, err)
		}

		logger.Info().Int64("deleted", n).Msg("Cleared voltage readings")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print every pile with its latest voltage and risk level",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(store)

		statuses, err := monitor.New(store, logger.Default().With("monitor")).Snapshot(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLONGITUDE\tLATITUDE\tVOLTAGE\tRISK\tREADING AT")
		for _, st := range statuses {
			voltage, at := "-", "-"
			if st.Voltage != nil {
				voltage = fmt.Sprintf("%.3f V", *st.Voltage)
			}
			if st.ReadingAt != nil {
				at = st.ReadingAt.In(cfg.Location()).Format(time.DateTime)
			}
			fmt.Fprintf(w, "%d\t%s\t%.6f\t%.6f\t%s\t%s\t%s\n",
				st.ID, st.Name, st.Longitude, st.Latitude, voltage, st.Risk.Label(), at)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <pile-id>",
	Short: "Print a pile's reading history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.New().WithData(errors.ErrInvalidArgument, args[0])
		}
		view, err := monitor.ParseView(historyView)
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(store)

		mon := monitor.New(store, logger.Default().With("monitor"),
			monitor.WithHistoryLimit(cfg.Database.HistoryLimit))
		h, err := mon.History(ctx, id, view)
		if err != nil {
			return err
		}

		layout := time.DateTime
		if view == monitor.ViewWeek || view == monitor.ViewMonth {
			layout = time.DateOnly
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tVOLTAGE")
		for _, p := range h.Points {
			fmt.Fprintf(w, "%s\t%.3f\n", p.X.Format(layout), p.Y)
		}
		return w.Flush()
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write one round of simulated readings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(store)

		gen, err := generator.New(store, generatorConfig(), logger.Default().With("generator"))
		if err != nil {
			return err
		}

		readings, err := gen.Tick(ctx)
		if err != nil {
			return err
		}
		for _, r := range readings {
			logger.Info().Int64("pile_id", r.PileID).Float64("voltage", r.Voltage).Msg("Generated reading")
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&profilesPath, "profiles", "", "YAML file with seed profiles")
	historyCmd.Flags().StringVar(&historyView, "view", string(monitor.ViewMonth), "History view (day, week, month, all)")
}
