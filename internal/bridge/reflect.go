package bridge

import (
	"context"
	"fmt"
	"iter"

	"bridgebot/internal/logging"
	"bridgebot/internal/perception"
)

const (
	draftPrompt    = "Draft a helpful answer to:\n%s"
	critiquePrompt = "CRITIC TASK: Evaluate the DRAFT for accuracy, clarity, safety, and completeness. " +
		"List concrete edits without rewriting everything. Then provide a revised answer.\n\nDRAFT:\n%s"
	mergePrompt = "Merge the following into one final, concise, high-quality answer. " +
		"Prefer factual accuracy and clear steps. If any unsafe or speculative content appears, remove it.\n\n" +
		"USER:\n%s\n\nCRITIQUE+REVISION:\n%s"
)

// Reflector answers a question in three sequential calls: the helper drafts, the critic
// reviews the draft, the helper merges the review into a final answer.
type Reflector struct {
	client perception.BotClient
	helper string
	critic string
}

// NewReflector creates a reflector for the given helper and critic bots.
func NewReflector(client perception.BotClient, helper, critic string) *Reflector {
	return &Reflector{client: client, helper: helper, critic: critic}
}

// Run returns the fragments of one reflection. Batch mode yields the final answer as a
// single KindReply; streaming mode streams the merge call as a speaker turn.
func (r *Reflector) Run(ctx context.Context, question string, streaming bool) iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		timer := logging.StartTimer(logging.CategoryReflect, "reflect")
		defer timer.Stop()

		draft, err := perception.Complete(ctx, r.client, perception.Request{Bot: r.helper, Prompt: fmt.Sprintf(draftPrompt, question)})
		if err != nil {
			r.fail(ctx, "draft", r.helper, err, yield)
			return
		}
		logging.Reflect("draft from %s: %d chars", r.helper, len(draft))

		critique, err := perception.Complete(ctx, r.client, perception.Request{Bot: r.critic, Prompt: fmt.Sprintf(critiquePrompt, draft)})
		if err != nil {
			r.fail(ctx, "critique", r.critic, err, yield)
			return
		}
		logging.Reflect("critique from %s: %d chars", r.critic, len(critique))

		merge := perception.Request{Bot: r.helper, Prompt: fmt.Sprintf(mergePrompt, question, critique)}
		if !streaming {
			answer, err := perception.Complete(ctx, r.client, merge)
			if err != nil {
				r.fail(ctx, "merge", r.helper, err, yield)
				return
			}
			yield(reply(answer))
			return
		}

		r.streamMerge(ctx, merge, yield)
	}
}

func (r *Reflector) streamMerge(ctx context.Context, req perception.Request, yield func(Fragment) bool) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !yield(Fragment{Kind: KindSpeaker, Speaker: req.Bot}) {
		return
	}
	events, errs := r.client.Stream(callCtx, req)
	for ev := range events {
		frag, ok := ev.(perception.TextFragment)
		if !ok {
			continue
		}
		if !yield(Fragment{Kind: KindText, Speaker: req.Bot, Text: frag.Text}) {
			cancel()
			for range events {
			}
			<-errs
			return
		}
	}
	err := <-errs
	if !yield(Fragment{Kind: KindTurnEnd, Speaker: req.Bot}) {
		return
	}
	if err != nil {
		r.fail(ctx, "merge", req.Bot, err, yield)
	}
}

func (r *Reflector) fail(ctx context.Context, stage, bot string, err error, yield func(Fragment) bool) {
	if ctx.Err() != nil {
		return
	}
	callErr := perception.AsCallError(bot, err)
	logging.Get(logging.CategoryReflect).Warn("%s stage failed: %v", stage, callErr)
	yield(Fragment{Kind: KindError, Speaker: callErr.Bot, Text: callErr.Error()})
}
