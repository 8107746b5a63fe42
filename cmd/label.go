package cmd

import (
	"fmt"

	"github.com/andresmejia3/tagvision/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <session_id> <name>",
	Short: "Assign a name to a recorded session",
	Args:  cobra.ExactArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return connectDB(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.Die("Invalid session ID", err, nil)
		}
		name := args[1]

		if err := DB.LabelSession(cmd.Context(), id, name); err != nil {
			utils.Die("Failed to label session", err, nil)
		}
		fmt.Printf("✅ Session %s labeled as '%s'\n", id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
