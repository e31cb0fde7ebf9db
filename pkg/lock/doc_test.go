package lock_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/lock"
	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi/xapitest"
)

func ExampleController() {
	host := xapitest.New()
	host.SetSessionStatus(xapi.SessionReserved, nil)

	c, err := lock.New(host, lock.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		fmt.Printf("Failed to create lock: %v\n", err)
		return
	}

	router := xapi.NewRouter()
	c.Register(router)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		fmt.Printf("Failed to start lock: %v\n", err)
		return
	}

	router.Dispatch(ctx, xapi.Event{Kind: xapi.EventPanelClicked, PanelID: "lockButton"})
	router.Dispatch(ctx, xapi.Event{
		Kind:       xapi.EventTextInputResponse,
		FeedbackID: lock.FeedbackSetup,
		Text:       "1234",
	})
	fmt.Println("Locked:", c.Locked())

	router.Dispatch(ctx, xapi.Event{Kind: xapi.EventStandbyState, StandbyState: xapi.StandbyOff})
	prompts := host.TextInputs()
	fmt.Println(prompts[len(prompts)-1].Title)

	// Output:
	// Locked: true
	// Device Locked
}
