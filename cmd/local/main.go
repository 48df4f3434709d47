package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jusunglee/busboard/internal/arrivals"
	"github.com/jusunglee/busboard/internal/models"
	"github.com/jusunglee/busboard/pkg/busboard"
)

// consoleRenderer prints each cycle to stdout
type consoleRenderer struct{}

func (consoleRenderer) OnLoadingStart() {
	fmt.Println("Loading...")
}

func (consoleRenderer) OnCycleComplete(list []models.DisplayArrival, activeLines []string, header models.StopHeader) {
	active := make(map[string]bool, len(activeLines))
	for _, line := range activeLines {
		active[line] = true
	}
	shown, allFilteredOut := arrivals.Filter(list, active)

	fmt.Printf("\n%s (%s)", header.Name, header.ID)
	if header.Locality != "" {
		fmt.Printf(" - %s", header.Locality)
	}
	fmt.Println()

	switch {
	case allFilteredOut:
		fmt.Println("  All lines are filtered out")
	case len(shown) == 0:
		fmt.Println("  No upcoming arrivals")
	}
	for _, a := range shown {
		marker := " "
		if a.Live {
			marker = "*"
		}
		fmt.Printf("  %s %-4s %-28s %3d min  %s\n", marker, a.LineID, a.Destination, a.Minutes, a.Clock)
	}
}

func (consoleRenderer) OnCycleError(stopID, message string) {
	fmt.Printf("Error (%s): %s\n", stopID, message)
}

func main() {
	var (
		baseURL = flag.String("base-url", "https://api.vitrasa.es/v1", "Transit API base URL")
		apiKey  = flag.String("api-key", "", "Transit API key")
		stop    = flag.String("stop", "14264", "Stop to show")
		line    = flag.String("line", "", "Only show this line")
		vehicle = flag.String("vehicle", "", "Follow this vehicle")
		lat     = flag.Float64("lat", 0, "Latitude for nearby stops")
		lon     = flag.Float64("lon", 0, "Longitude for nearby stops")
		watch   = flag.Bool("watch", false, "Keep refreshing until interrupted")
	)
	flag.Parse()

	// Fallback to environment variable if API key not provided via flag
	if *apiKey == "" {
		*apiKey = os.Getenv("BUSBOARD_API_KEY")
	}

	config := busboard.DefaultConfig()
	config.BaseURL = *baseURL
	config.APIKey = *apiKey

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Nearby query mode
	if *lat != 0 || *lon != 0 {
		client, err := busboard.NewLocal(ctx, config)
		if err != nil {
			slog.Error("Failed to create client", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		fmt.Printf("\nNearest stops to (%.4f, %.4f):\n", *lat, *lon)
		for _, s := range client.NearbyStops(*lat, *lon, 5) {
			fmt.Printf("- %s (%s) %v\n", s.Name, s.ID, s.Lines)
		}
		return
	}

	config.DefaultStop = *stop
	client, err := busboard.NewLocal(ctx, config, busboard.WithRenderer(consoleRenderer{}))
	if err != nil {
		slog.Error("Failed to create client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if *line != "" {
		client.ToggleLine(*line)
	}

	if *vehicle != "" {
		client.OpenLiveView(*vehicle, "")
		client.SetMapObserver(printVehicle)
		defer client.ClearMapObserver()

		live, err := client.LiveVehicle(ctx)
		if err != nil {
			fmt.Printf("Vehicle %s: %v\n", *vehicle, err)
		} else {
			printVehicle(live)
		}
	}

	if !*watch {
		fmt.Printf("\nLast update: %s\n", client.GetLastUpdate().Format("15:04:05"))
		return
	}

	<-ctx.Done()
}

func printVehicle(live models.LiveVehicle) {
	fmt.Printf("Vehicle %s at (%.5f, %.5f)", live.Vehicle.ID, live.Vehicle.Lat, live.Vehicle.Lon)
	if live.StopsAway != nil {
		fmt.Printf(", %d stops away", *live.StopsAway)
	}
	fmt.Println()
}
