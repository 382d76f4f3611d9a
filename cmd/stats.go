package cmd

import (
	"strconv"

	"github.com/nvr-ai/go-cheatdetect/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the persisted detection statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.session.Load(cmd.Context(), a.store); err != nil && !errors.Is(err, state.ErrNotFound) {
			return errors.Wrap(err, "load state")
		}
		return writeJSON(cmd.OutOrStdout(), a.session.Stats())
	},
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold <value>",
	Short: "Set the persisted confidence threshold",
	Long:  "Set the persisted confidence threshold. Values outside [0, 1] are clamped; the counters are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return errors.Wrapf(err, "parse threshold %q", args[0])
		}

		a, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.session.Load(cmd.Context(), a.store); err != nil && !errors.Is(err, state.ErrNotFound) {
			return errors.Wrap(err, "load state")
		}
		a.session.SetThreshold(v)
		if err := a.session.Save(cmd.Context(), a.store); err != nil {
			return errors.Wrap(err, "save state")
		}
		return writeJSON(cmd.OutOrStdout(), a.session.Stats())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(thresholdCmd)
}

// openStore opens the app without a locator and insists on a state store.
func openStore(cmd *cobra.Command) (*app, error) {
	c := *cfg
	c.State.LoadOnStart = false
	a, err := openApp(cmd.Context(), &c, false)
	if err != nil {
		return nil, err
	}
	if a.store == nil {
		a.Close()
		return nil, errors.New("no state backend configured; set state.backend or CHEAT_STATE_BACKEND")
	}
	return a, nil
}
