package slackbot

import (
	"context"
	"log"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const refreshStepsCommand = "/pmd-refresh-steps"

// StartSlackBot acknowledges every Socket Mode envelope before doing any work
// and hands messages to the dispatcher. It blocks until the connection ends.
func StartSlackBot(api *slack.Client, d *Dispatcher) error {
	client := socketmode.New(api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				log.Println("slack connecting to Socket Mode")
			case socketmode.EventTypeConnectionError:
				log.Printf("slack connection error: %v", evt.Data)
			case socketmode.EventTypeEventsAPI:
				client.Ack(*evt.Request)
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				handleEventsAPI(d, eventsAPIEvent)
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go handleSlashCommand(d, cmd)
			}
		}
	}()

	log.Println("Slack bot connected via Socket Mode")
	return client.Run()
}

func handleEventsAPI(d *Dispatcher, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := eventFromInner(event.InnerEvent.Data); ok {
		d.Dispatch(ev)
	}
}

// eventFromInner accepts channel mentions and plain direct messages. Edits,
// bot posts and other message subtypes are ignored.
func eventFromInner(data any) (Event, bool) {
	switch ev := data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" {
			return Event{}, false
		}
		return Event{Channel: ev.Channel, User: ev.User, TS: ev.TimeStamp, ThreadTS: ev.ThreadTimeStamp, Text: ev.Text}, true
	case *slackevents.MessageEvent:
		if ev.SubType != "" || ev.BotID != "" || !strings.HasPrefix(ev.Channel, directMessagePrefix) {
			return Event{}, false
		}
		return Event{Channel: ev.Channel, User: ev.User, TS: ev.TimeStamp, ThreadTS: ev.ThreadTimeStamp, Text: ev.Text}, true
	}
	return Event{}, false
}

func handleSlashCommand(d *Dispatcher, cmd slack.SlashCommand) {
	switch cmd.Command {
	case refreshStepsCommand:
		reply := d.RefreshSteps(context.Background(), cmd.UserID)
		if err := d.chat.PostEphemeral(cmd.ChannelID, cmd.UserID, reply); err != nil {
			log.Printf("slack ephemeral error user=%s: %v", cmd.UserID, err)
		}
	}
}
