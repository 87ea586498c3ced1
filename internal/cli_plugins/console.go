package cliplugins

import (
	"fmt"
	"io"
	"text/tabwriter"

	syncmanager "trafficrc/internal/sync_manager"

	"github.com/fatih/color"
)

// renderSnapshot печатает снимок в виде таблиц: состояние, отправители, борта
func renderSnapshot(w io.Writer, snap *syncmanager.Snapshot) {
	header := color.New(color.FgCyan, color.Bold)
	state := color.New(color.FgYellow)
	if snap.State == syncmanager.StateSynchronized {
		state = color.New(color.FgGreen)
	}

	header.Fprintf(w, "snapshot #%d ", snap.Seq)
	state.Fprintf(w, "[%s]", snap.State)
	fmt.Fprintf(w, " peers=%d aircraft=%d max_draw=%.0fm max_label=%.0fm\n",
		len(snap.Peers), len(snap.Aircraft), snap.Settings.MaxDrawDist, snap.Settings.MaxLabelDist)

	if len(snap.Peers) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PEER\tNAME\tSOURCE\tAIRCRAFT\tLAST SEEN")
		for _, p := range snap.Peers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
				p.Identity, p.SenderName, p.Source, p.AircraftCount, p.LastSeen.Format("15:04:05.000"))
		}
		tw.Flush()
	}

	if len(snap.Aircraft) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tLABEL\tLAT\tLON\tALT(m)\tHDG\tOWNER")
		for _, ac := range snap.Aircraft {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.5f\t%.5f\t%.0f\t%.0f\t%s\n",
				ac.ID, ac.ICAOType, ac.Label, ac.Lat, ac.Lon, ac.AltM, ac.Heading, ac.Owner)
		}
		tw.Flush()
	}
}

// renderStats печатает счетчики в стабильном порядке
func renderStats(w io.Writer, stats map[string]interface{}, keys []string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		if v, ok := stats[k]; ok {
			fmt.Fprintf(tw, "%s\t%v\n", k, v)
		}
	}
	tw.Flush()
}

var statsOrder = []string{
	"datagrams_received", "messages_decoded", "malformed", "inbound_dropped",
	"beacons_received", "beacons_sent", "send_errors", "receive_errors",
	"collisions", "peers_added", "peers_evicted", "goodbyes",
	"merges", "publishes", "live_peers", "live_aircraft",
}
