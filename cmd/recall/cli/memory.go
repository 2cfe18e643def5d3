package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var (
	rememberCategory   string
	rememberImportance float64
	searchTop          int
	searchCategory     string
)

var rememberCmd = &cobra.Command{
	Use:   "remember [text...]",
	Short: "Store a fact in persistent memory",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		text := strings.Join(args, " ")

		eng := startEngine()
		defer eng.Close()

		id := eng.Remember(context.Background(), text, rememberCategory, rememberImportance)
		if id == "" {
			fmt.Println("Not stored (rejected, duplicate, or store unavailable).")
			os.Exit(1)
		}
		fmt.Printf("Stored memory %s\n", id)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search persistent memory",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		query := strings.Join(args, " ")

		eng := startEngine()
		defer eng.Close()

		results := eng.SearchMemories(context.Background(), query, searchTop, searchCategory)
		if len(results) == 0 {
			fmt.Println("No matching memories.")
			return
		}
		for _, r := range results {
			fmt.Printf("%.2f  [%s]  %s\n", r.Score, r.Category, r.Text)
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store and journal statistics",
	Run: func(cmd *cobra.Command, args []string) {
		eng := startEngine()
		defer eng.Close()

		s := eng.MemoryStoreStats(context.Background())
		fmt.Println("Memory store:")
		if !s.Available {
			fmt.Println("  unavailable")
		} else {
			fmt.Printf("  path:     %s\n", s.Path)
			fmt.Printf("  total:    %d\n", s.Total)
			fmt.Printf("  embedded: %d\n", s.Embedded)
			if len(s.ByCategory) > 0 {
				categories := make([]string, 0, len(s.ByCategory))
				for cat := range s.ByCategory {
					categories = append(categories, cat)
				}
				sort.Strings(categories)
				for _, cat := range categories {
					fmt.Printf("  %-9s %d\n", cat+":", s.ByCategory[cat])
				}
			}
		}

		logs := eng.SessionLogFiles()
		fmt.Println("Journal:")
		fmt.Printf("  dir:          %s\n", eng.JournalDir())
		fmt.Printf("  session logs: %d\n", len(logs))
		if len(logs) > 0 {
			fmt.Printf("  latest:       %s\n", logs[len(logs)-1])
		}
	},
}

var logCmd = &cobra.Command{
	Use:   "log [session-id] [summary]",
	Short: "Append a session block to today's journal log",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		eng := newEngine()
		defer eng.Close()

		if !eng.AppendSessionLog(args[0], args[1]) {
			fmt.Println("Failed to write session log.")
			os.Exit(1)
		}
		fmt.Println("Session log written.")
	},
}

func init() {
	RootCmd.AddCommand(rememberCmd)
	RootCmd.AddCommand(searchCmd)
	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(logCmd)

	rememberCmd.Flags().StringVar(&rememberCategory, "category", "general", "Memory category")
	rememberCmd.Flags().Float64Var(&rememberImportance, "importance", 0.5, "Importance from 0 to 1")
	searchCmd.Flags().IntVar(&searchTop, "top", 3, "Maximum results")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "Restrict to a category")
}
