package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/tagvision/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	historySession string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded sessions, or the poses of one session",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return connectDB(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if historySession == "" {
			runSessions(cmd)
			return
		}
		id, err := uuid.Parse(historySession)
		if err != nil {
			utils.Die("Invalid session ID", err, nil)
		}
		runRecords(cmd, id)
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historySession, "session", "s", "", "Session ID to show poses for")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of poses to show")
	rootCmd.AddCommand(historyCmd)
}

func runSessions(cmd *cobra.Command) {
	sessions, err := DB.ListSessions(cmd.Context())
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}
	if len(sessions) == 0 {
		fmt.Println("No recorded sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tLABEL\tSTARTED\tTRANSPORT\tCAMERA\tFAMILY\tPOSES\tDETECTED")
	fmt.Fprintln(w, "-------\t-----\t-------\t---------\t------\t------\t-----\t--------")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.Label, s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.Transport, s.Camera, s.Family, s.Records, s.Detected)
	}
	w.Flush()
}

func runRecords(cmd *cobra.Command, id uuid.UUID) {
	if _, err := DB.GetSession(cmd.Context(), id); err != nil {
		utils.Die("Failed to load session", err, nil)
	}
	recs, err := DB.ListRecords(cmd.Context(), id, historyLimit)
	if err != nil {
		utils.Die("Failed to list poses", err, nil)
	}
	if len(recs) == 0 {
		fmt.Println("No poses recorded for this session.")
		return
	}
	for _, r := range recs {
		fmt.Println(formatRecord(r.PoseRecord))
	}
}
