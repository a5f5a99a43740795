package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/banshee-data/ride.report/internal/fuel"
	"github.com/banshee-data/ride.report/internal/httputil"
)

// ErrUsage is returned for a malformed remote command.
var ErrUsage = errors.New("usage error")

// RunRemoteCommand drives a running ride computer over its API:
//
//	trip start|stop|status
//	refuel <litres> <price_per_litre> [odometer]
func RunRemoteCommand(ctx context.Context, client *httputil.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		PrintRemoteHelp(out)
		return ErrUsage
	}

	switch args[0] {
	case "trip":
		if len(args) != 2 {
			PrintRemoteHelp(out)
			return ErrUsage
		}
		return runTripAction(ctx, client, args[1], out)
	case "refuel":
		return runRefuel(ctx, client, args[1:], out)
	case "help", "-h", "--help":
		PrintRemoteHelp(out)
		return nil
	default:
		PrintRemoteHelp(out)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func runTripAction(ctx context.Context, client *httputil.Client, action string, out io.Writer) error {
	switch action {
	case "status":
		var v TripView
		if err := client.GetJSON(ctx, "/api/trip", &v); err != nil {
			return err
		}
		printTrip(out, v)
		return nil

	case "start":
		var v TripView
		if err := client.PostJSON(ctx, "/api/trip/start", nil, &v); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Riding, trip %s\n", v.TripID)
		printTrip(out, v)
		return nil

	case "stop":
		var resp StopResponse
		err := client.PostJSON(ctx, "/api/trip/stop", nil, &resp)
		var se *httputil.StatusError
		if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
			return fmt.Errorf("%s; run stop again once storage is back", se.Message)
		}
		if err != nil {
			return err
		}
		if !resp.Saved || resp.Ride == nil {
			fmt.Fprintln(out, "Trip too short, nothing logged")
			return nil
		}
		fmt.Fprintf(out, "✓ Ride logged: %.2f km at %.1f km/h avg, %.2f L\n",
			resp.Ride.DistanceKm, resp.Ride.AvgSpeedKmh, resp.Ride.FuelUsedLitres)
		return nil

	default:
		PrintRemoteHelp(out)
		return fmt.Errorf("%w: unknown trip action %q", ErrUsage, action)
	}
}

func runRefuel(ctx context.Context, client *httputil.Client, args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		PrintRemoteHelp(out)
		return ErrUsage
	}
	litres, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("%w: invalid litres %q", ErrUsage, args[0])
	}
	price, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("%w: invalid price %q", ErrUsage, args[1])
	}
	in := fuel.RefuelInput{Litres: litres, PricePerLitre: price}
	if len(args) == 3 {
		odo, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid odometer %q", ErrUsage, args[2])
		}
		in.Odometer = &odo
	}

	var resp refuelCreated
	if err := client.PostJSON(ctx, "/api/refuels", in, &resp); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Refuel %d logged: %.2f L for %.2f\n", resp.ID, resp.Litres, resp.TotalCost)
	if resp.EstimatedRangeKm != nil {
		fmt.Fprintf(out, "Estimated range: %.1f km\n", *resp.EstimatedRangeKm)
	}
	return nil
}

func printTrip(out io.Writer, v TripView) {
	state := "stopped"
	if v.Riding {
		state = "riding"
	}
	fmt.Fprintf(out, "State:      %s\n", state)
	fmt.Fprintf(out, "Speed:      %.1f %s\n", v.Speed, v.Units)
	fmt.Fprintf(out, "Distance:   %.2f %s\n", v.Distance, v.DistanceUnit)
	fmt.Fprintf(out, "Average:    %.1f %s\n", v.AvgSpeed, v.Units)
	fmt.Fprintf(out, "GPS:        %s\n", v.Permission)
	if v.LastError != nil {
		fmt.Fprintf(out, "Last error: %s\n", v.LastError.Message)
	}
	if v.EstimatedRangeKm != nil {
		fmt.Fprintf(out, "Range:      %.1f km\n", *v.EstimatedRangeKm)
	}
}

// PrintRemoteHelp prints usage for the remote commands.
func PrintRemoteHelp(out io.Writer) {
	fmt.Fprintln(out, `Usage: ridecomputer [-remote URL] <command> [args]

Commands:
  trip start                        Start a ride (resumes an open one)
  trip stop                         Stop and log the ride
  trip status                       Show live speed, distance and average
  refuel <litres> <price> [odo]     Log a refuel

The remote defaults to http://localhost:8080.`)
}
