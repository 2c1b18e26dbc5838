package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"council/config"
	"council/node"
	"council/transport"
)

var (
	configPath    string
	proposeFlag   string
	delayMillis   int
)

// paxosCmd represents the paxos command
var paxosCmd = &cobra.Command{
	Use:   "paxos [MemberId]",
	Short: "Run one node of a Paxos council-president election",
	Long: `Run one node of a Paxos cluster. The node plays acceptor, proposer,
and learner simultaneously, and prints "CONSENSUS: <value> has been
elected Council President!" exactly once if and when it learns a
decided value.`,
	Args: cobra.ExactArgs(1),
	Run:  runPaxos,
	// Undeclared flags are ignored rather than treated as a parse error.
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
}

func init() {
	rootCmd.AddCommand(paxosCmd)

	paxosCmd.Flags().StringVar(&configPath, "config", "cluster.conf", "Path to the cluster configuration file")
	paxosCmd.Flags().StringVar(&proposeFlag, "propose", "", "Candidate to automatically propose after --delay")
	paxosCmd.Flags().IntVar(&delayMillis, "delay", 0, "Milliseconds to wait before the automatic --propose")
}

func runPaxos(cmd *cobra.Command, args []string) {
	selfID := args[0]

	// Diagnostics go to stdout, each line starting with its own prefix.
	log.SetOutput(os.Stdout)
	log.SetFlags(0)

	cluster, err := config.Load(configPath, func(warning string) { log.Println(warning) })
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if !cluster.Has(selfID) {
		fmt.Fprintf(os.Stderr, "member id %q not present in configuration %s\n", selfID, configPath)
		os.Exit(2)
	}

	tr := transport.NewTCPTransport(selfID, cluster, log.Printf)
	n := node.New(selfID, cluster, tr, log.Printf)

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer n.Close()

	if proposeFlag != "" {
		n.ScheduleAutoPropose(proposeFlag, time.Duration(delayMillis)*time.Millisecond)
	}

	if err := n.RunInteractive(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "input error: %v\n", err)
	}
}
