package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"board-sync/client"
	"board-sync/domain"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	RelayURL string
	Owner    string
	Token    string
	Gzip     bool
	Type     string
	TaskID   string
	Status   string
	Favorite bool
	Content  string
	Column   string
	ID       string
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	return newPublishCommand(&PublishOptions{RootOptions: rootOpts})
}

func newPublishCommand(opts *PublishOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one task event to the relay",
		Long: `Publish a single event for an owner.

Example:
  board-sync publish --owner u1 --type statusUpdate --task t1 --status urgent
  board-sync publish --owner u1 --type favoriteUpdate --task t1 --favorite`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := opts.event(cmd)
			if err != nil {
				return err
			}
			pub := client.NewPublisher(opts.RelayURL, opts.Owner)
			pub.Token = opts.Token
			pub.Gzip = opts.Gzip
			if err := pub.Publish(cmd.Context(), ev); err != nil {
				return err
			}
			cmd.Printf("published %s %s\n", ev.Name(), ev.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.RelayURL, "relay", "http://localhost:9000", "relay base URL")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner the event belongs to (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token sent to the relay")
	cmd.Flags().BoolVar(&opts.Gzip, "gzip", false, "gzip the request body")
	cmd.Flags().StringVarP(&opts.Type, "type", "t", domain.StatusUpdate, "event type")
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "task id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status for statusUpdate")
	cmd.Flags().BoolVar(&opts.Favorite, "favorite", false, "favorite flag for favoriteUpdate")
	cmd.Flags().StringVar(&opts.Content, "content", "", "content for contentUpdate")
	cmd.Flags().StringVar(&opts.Column, "column", "", "column for taskMoved")
	cmd.Flags().StringVar(&opts.ID, "id", "", "event id (random when empty)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func (o *PublishOptions) event(cmd *cobra.Command) (domain.Event, error) {
	ev := domain.Event{ID: o.ID, Type: o.Type, TaskID: o.TaskID, LastModified: time.Now().UnixMilli()}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Type != "" && ev.Type != domain.Ping && ev.TaskID == "" {
		return domain.Event{}, fmt.Errorf("--task is required for %s", ev.Type)
	}
	switch ev.Type {
	case domain.StatusUpdate:
		st := domain.Status(o.Status)
		if !st.Valid() {
			return domain.Event{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, o.Status)
		}
		ev.Status = &st
	case domain.FavoriteUpdate:
		fav := o.Favorite
		ev.IsFavorite = &fav
	case domain.ContentUpdate:
		if !cmd.Flags().Changed("content") {
			return domain.Event{}, fmt.Errorf("--content is required for %s", ev.Type)
		}
		c := o.Content
		ev.Content = &c
	case domain.TaskMoved:
		if o.Column == "" {
			return domain.Event{}, fmt.Errorf("--column is required for %s", ev.Type)
		}
		col := o.Column
		ev.ColumnID = &col
	}
	return ev, nil
}
