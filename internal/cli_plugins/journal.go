package cliplugins

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"trafficrc/internal/journal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// JournalCommand показывает сохраненные сессии синхронизации
type JournalCommand struct {
	app *AppContext
	cmd *cobra.Command
}

func NewJournalCommand(app *AppContext) *JournalCommand {
	return &JournalCommand{app: app}
}

func (j *JournalCommand) Meta() *cobra.Command {
	if j.cmd != nil {
		return j.cmd
	}
	j.cmd = &cobra.Command{
		Use:   "journal",
		Short: "List recorded sync sessions or show one of them",
		Args:  cobra.NoArgs,
	}
	j.cmd.Flags().IntP("limit", "n", 20, "how many sessions to list (0 - all)")
	j.cmd.Flags().String("id", "", "show a single session with its counters")
	j.cmd.Flags().String("delete", "", "delete a session")
	return j.cmd
}

func (j *JournalCommand) Execute(cmd *cobra.Command, args []string) error {
	jr, err := j.app.openJournal()
	if err != nil {
		return err
	}
	defer jr.Close()

	flags := cmd.Flags()
	if id, _ := flags.GetString("delete"); id != "" {
		if err := jr.Delete(id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
		fmt.Fprintf(j.app.Out, "session %s deleted\n", id)
		return nil
	}
	if id, _ := flags.GetString("id"); id != "" {
		s, err := jr.Get(id)
		if err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
		renderSession(j.app.Out, s)
		return nil
	}

	limit, _ := flags.GetInt("limit")
	sessions, err := jr.List(limit)
	if err != nil {
		return err
	}
	renderSessions(j.app.Out, sessions)
	return nil
}

func renderSessions(w io.Writer, sessions []journal.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGROUP\tSTARTED\tDURATION\tMAX PEERS\tDATAGRAMS\tMALFORMED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			s.ID, s.Group, s.StartedAt.Format(time.DateTime), s.Duration().Round(time.Second),
			s.MaxPeers, s.Stats.DatagramsReceived, s.Stats.Malformed)
	}
	tw.Flush()
}

func renderSession(w io.Writer, s journal.Session) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "session %s\n", s.ID)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "group\t%s\n", s.Group)
	fmt.Fprintf(tw, "started\t%s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "ended\t%s\n", s.EndedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "duration\t%s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(tw, "max_peers\t%d\n", s.MaxPeers)
	tw.Flush()
	fmt.Fprintln(w)

	renderStats(w, s.Stats.Map(), statsOrder)
}
