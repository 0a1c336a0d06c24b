package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/flipstack/pinbot/src/PinBot/components/matcher"
	"github.com/flipstack/pinbot/src/shared/pinmap"
)

var (
	queryFlag   = flag.String("query", "", "Location id or name to resolve")
	apiFlag     = flag.String("api", "", "Pinball Map API base URL (default: public API)")
	timeoutFlag = flag.Duration("timeout", 30*time.Second, "Overall timeout")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	if *queryFlag == "" {
		log.Fatal("usage: locate-smoketest -query <id|name>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	client := pinmap.NewClient(*apiFlag)
	result := matcher.New(client).Resolve(ctx, *queryFlag)

	switch result.Kind {
	case matcher.MatchExact:
		loc := result.Location
		fmt.Printf("exact: %s (#%d) - %s, %s, %d machines\n",
			loc.Name, loc.ID, loc.City, loc.State, loc.NumMachines)
	case matcher.MatchNotFound:
		fmt.Println("not found")
	case matcher.MatchAmbiguous, matcher.MatchSuggestions:
		fmt.Printf("%d candidate(s):\n", len(result.Suggestions))
		for _, loc := range result.Suggestions {
			fmt.Printf("  %s (#%d) - %s, %s\n", loc.Name, loc.ID, loc.City, loc.State)
		}
	default:
		log.Fatalf("lookup failed: %v", result.Err)
	}
}
