package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"github.com/slack-go/slack"
)

// Button action ids; the button value carries the assignment id.
const (
	ActionAcknowledge = "assignment-acknowledge"
	ActionReroll      = "assignment-reroll"
	ActionReviewed    = "assignment-reviewed"
)

const homeTitle = "Your reviews"

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

func markdown(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

// assignmentButtons lists the actions still open on a. Nothing is offered
// once the review is completed.
func assignmentButtons(a model.AssignedReview) *slack.ActionBlock {
	if a.CompletedAt != nil {
		return nil
	}
	id := strconv.FormatInt(a.ID, 10)
	var buttons []slack.BlockElement
	if a.AcknowledgedAt == nil {
		buttons = append(buttons, slack.NewButtonBlockElement(ActionAcknowledge, id, plain("Acknowledge")).WithStyle(slack.StylePrimary))
	}
	buttons = append(buttons, slack.NewButtonBlockElement(ActionReviewed, id, plain("Reviewed")))
	if a.RerolledAt == nil {
		buttons = append(buttons, slack.NewButtonBlockElement(ActionReroll, id, plain("Reroll")).WithStyle(slack.StyleDanger))
	}
	return slack.NewActionBlock("assignment-"+id, buttons...)
}

// assignmentBlocks renders the channel announcement of a new assignment.
func assignmentBlocks(text string, a model.AssignedReview) []slack.Block {
	blocks := []slack.Block{slack.NewSectionBlock(markdown(text), nil, nil)}
	if actions := assignmentButtons(a); actions != nil {
		blocks = append(blocks, actions)
	}
	return blocks
}

func reviewStatus(a model.AssignedReview) string {
	parts := []string{"assigned " + a.AssignedAt.Format("Jan 2 15:04")}
	if a.AcknowledgedAt != nil {
		parts = append(parts, "acknowledged "+a.AcknowledgedAt.Format("Jan 2 15:04"))
	}
	if a.RerolledAt != nil {
		parts = append(parts, "rerolled")
	}
	return strings.Join(parts, ", ")
}

// homeBlocks renders the App Home tab listing reviews, oldest first.
func homeBlocks(reviews []model.AssignedReview) []slack.Block {
	blocks := []slack.Block{slack.NewHeaderBlock(plain(homeTitle))}
	if len(reviews) == 0 {
		return append(blocks, slack.NewSectionBlock(markdown("No outstanding reviews :tada:"), nil, nil))
	}
	blocks = append(blocks, slack.NewSectionBlock(markdown(fmt.Sprintf("You have %d outstanding review(s)", len(reviews))), nil, nil))
	for _, r := range reviews {
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewSectionBlock(markdown(r.PRURL), nil, nil),
			slack.NewContextBlock("", markdown(reviewStatus(r))),
		)
		if actions := assignmentButtons(r); actions != nil {
			blocks = append(blocks, actions)
		}
	}
	return blocks
}
