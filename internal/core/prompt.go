package core

import (
	"fmt"
	"strings"

	"gwi.com/review-autoreply/internal/store"
)

const (
	noCommentPlaceholder = "(no written comment, rating only)"
	defaultTone          = "friendly and professional"

	replySystemInstruction = "You write replies to customer reviews on behalf of a business owner. " +
		"Return only the reply text, without quotes, headings or commentary."
)

// BuildPrompt renders the instruction sent to the text generation service for
// one review. The output depends only on its arguments.
func BuildPrompt(review Review, setting store.AutomationSetting) string {
	tone := strings.TrimSpace(setting.Tone)
	if tone == "" {
		tone = defaultTone
	}

	comment := strings.TrimSpace(review.Comment)
	if comment == "" {
		comment = noCommentPlaceholder
	}

	var b strings.Builder
	b.WriteString("Write a reply to the following customer review of our business.\n\n")
	fmt.Fprintf(&b, "Business tone: %s\n", tone)
	if review.StarRating > 0 {
		fmt.Fprintf(&b, "Star rating: %d out of 5\n", review.StarRating)
	} else {
		b.WriteString("Star rating: not given\n")
	}
	fmt.Fprintf(&b, "Review: %s\n", comment)

	if keywords := cleanKeywords(setting.Keywords); len(keywords) > 0 {
		fmt.Fprintf(&b, "Work these keywords into the reply naturally where they fit: %s\n", strings.Join(keywords, ", "))
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Reply in the same language as the review.\n")
	b.WriteString("- Stay professional and courteous, and match the business tone.\n")
	b.WriteString("- Do not use placeholders such as [Name] or [Business]; write the final text.\n")
	b.WriteString("- Do not mention that the reply was generated or automated.\n")
	return b.String()
}

func cleanKeywords(keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
