package service

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/identity"
	"github.com/fitbounty/fitbounty/internal/payment"
)

var printer = message.NewPrinter(language.English)

// formatSats renders n with thousands separators.
func formatSats(n int64) string {
	return printer.Sprintf("%d", n)
}

// displayIdentity shortens network keys for display: npub1abcdefgh... for
// keys, @name for handles.
func displayIdentity(s string) string {
	if identity.IsHexKey(s) {
		if npub, err := identity.EncodePublicKey(s); err == nil {
			s = npub
		}
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "@"), "nostr:")
	if strings.HasPrefix(s, "npub") && len(s) > 12 {
		return "@" + s[:12] + "..."
	}
	return "@" + s
}

// formatExpiry renders an invoice lifetime in whole hours and minutes, such
// as "1 hour" or "1 hour 30 minutes".
func formatExpiry(d time.Duration) string {
	d = d.Round(time.Minute)
	h, m := int(d/time.Hour), int((d%time.Hour)/time.Minute)
	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 || h == 0 {
		parts = append(parts, plural(m, "minute"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func penaltyCreatedMessage(c *model.Challenge, inv *payment.Invoice, expiry time.Duration) string {
	recipient := displayIdentity(c.Penalty.Recipient)
	var b strings.Builder
	b.WriteString("💸 **Penalty Bet Accepted!**\n")
	fmt.Fprintf(&b, "📋 **Challenge:** %s\n", c.Exercise.FullDescription)
	fmt.Fprintf(&b, "💰 **Penalty:** %d sats to %s\n", c.Penalty.AmountSats, recipient)
	fmt.Fprintf(&b, "⏰ **Duration:** %d days from payment\n\n", c.Duration.Days)
	b.WriteString("🔒 **To activate your challenge, pay this invoice:**\n")
	fmt.Fprintf(&b, "`%s`\n\n", inv.PaymentRequest)
	b.WriteString("**Your sats will be held in escrow:**\n")
	b.WriteString("- ✅ Challenge completed: Full refund to you\n")
	fmt.Fprintf(&b, "- ❌ Challenge failed: Payment sent to %s\n", recipient)
	b.WriteString("⏱️ Challenge expired: Full refund to you\n")
	fmt.Fprintf(&b, "⚡ Invoice expires in %s\n", formatExpiry(expiry))
	b.WriteString("💪 Pay now to start your accountability journey!\n")
	fmt.Fprintf(&b, "Challenge ID: '%s'", c.ID)
	return b.String()
}

func bountyCreatedMessage(c *model.Challenge, handle string) string {
	return fmt.Sprintf(`🎯 **Bounty Challenge Created!**

📋 **Challenge:** %s
💰 **Bounty Pool:** 0 sats (waiting for pledges)

Friends can now pledge bounties by replying:
"%s bounty [amount] sats"

🏁 **Challenge starts when the first pledge is paid!**
📹 **Evidence Required:** Daily video proof
⏰ **Duration:** %d days

Let's see who believes in you! 💪`, c.Exercise.FullDescription, handle, c.Duration.Days)
}

func pledgeMessage(amount int64, inv *payment.Invoice) string {
	return fmt.Sprintf("💰 **Bounty Pledge Received!**\n\n"+
		"Amount: %d sats\n"+
		"Status: Pending payment confirmation\n\n"+
		"Pay this invoice to lock in your bounty:\n"+
		"`%s`\n\n"+
		"Your sats will be held in escrow until the challenge ends.", amount, inv.PaymentRequest)
}

func statusMessage(c *model.Challenge) string {
	done := c.CompletedDays()
	total := c.Duration.Days

	emoji, text := "⏳", "Pending Payment"
	switch c.Status {
	case model.StatusActive:
		emoji, text = "🏃‍♂️", fmt.Sprintf("Active - Day %d/%d", done, total)
	case model.StatusCompleted:
		emoji, text = "🏆", "Completed"
	case model.StatusFailed:
		emoji, text = "❌", "Failed"
	case model.StatusExpired:
		emoji, text = "⏱️", "Expired"
	}

	var b strings.Builder
	b.WriteString("📊 **Challenge Status**\n")
	fmt.Fprintf(&b, "%s Status: %s\n", emoji, text)
	fmt.Fprintf(&b, "📋 Exercise: %s\n", c.Exercise.FullDescription)
	if c.Penalty != nil {
		fmt.Fprintf(&b, "💰 Penalty: %d sats to %s\n", c.Penalty.AmountSats, displayIdentity(c.Penalty.Recipient))
	}
	if c.Bounty != nil {
		fmt.Fprintf(&b, "💰 Bounty Pool: %d sats from %d contributors\n", c.Bounty.AmountSats, len(c.Bounty.Contributors()))
	}
	fmt.Fprintf(&b, "\nProgress: %d/%d days completed\n", done, total)
	remaining := total - done
	if remaining < 0 {
		remaining = 0
	}
	fmt.Fprintf(&b, "%s%s %d%%", strings.Repeat("█", done), strings.Repeat("░", remaining), c.ProgressPercent())
	if c.Status == model.StatusActive {
		b.WriteString("\n\n📹 Submit your daily video to continue!")
	}
	return b.String()
}

func noChallengeMessage(handle string) string {
	return fmt.Sprintf("📊 You don't have any active challenges. Create one with '%s' and describe your fitness goal!", handle)
}

func leaderboardMessage(lb *Leaderboard) string {
	var b strings.Builder
	b.WriteString("🏆 **FitBounty Leaderboard**\n\n")
	b.WriteString("🥇 **Top Performers:**\n")
	if len(lb.Top) == 0 {
		b.WriteString("No completed challenges yet. Be the first!\n")
	}
	for i, e := range lb.Top {
		fmt.Fprintf(&b, "%d. %s - %d challenges completed (%s sats earned)\n",
			i+1, displayIdentity(e.Owner), e.Completed, formatSats(e.SatsEarned))
	}
	b.WriteString("\n📈 **Challenge Stats:**\n")
	fmt.Fprintf(&b, "- Total challenges: %d\n", lb.Total)
	fmt.Fprintf(&b, "- Success rate: %d%%\n", lb.SuccessRate)
	fmt.Fprintf(&b, "- Total sats earned: %s\n\n", formatSats(lb.TotalSatsEarned))
	b.WriteString("Keep pushing! 💪")
	return b.String()
}

const helpTemplate = `🤖 **FitBounty Help**

**🎯 Create Penalty Bet:**
"I have to do [X] [exercise] for [Y] days OR I owe @friend [amount] sats @fitbounty"

**💰 Create Bounty Challenge:**
"I want to do [X] [exercise] daily for [Y] days @fitbounty"
(Friends can then pledge bounties)

**📊 Check Status:**
"@fitbounty status" or "how's my challenge?"

**🏆 Leaderboard:**
"@fitbounty leaderboard"

**Examples:**
- "I have to do 20 pushups for 7 days OR I owe @alice 1000 sats @fitbounty"
- "Going to do 50 squats daily for 5 days @fitbounty"
- "Challenge: 100 burpees for 3 days @fitbounty"

**Advanced Examples:**
- "If I don't do 30 burpees daily for a week, @bob gets 500 sats @fitbounty"
- "25 situps for 5 days or pay @carol 2000 sats @fitbounty"
- "I must do 15 pullups daily for 10 days or @dave receives 1500 sats @fitbounty"

Ready to get fit and earn sats? 💪⚡`

func helpMessage(handle string) string {
	return strings.ReplaceAll(helpTemplate, "@fitbounty", handle)
}

func unknownCommandMessage(handle string) string {
	return fmt.Sprintf("🤖 I didn't understand that command. Reply with '%s help' for instructions.", handle)
}

const genericErrorMessage = "🤖 Sorry, I encountered an error processing your request. Please try again."

func resolutionErrorMessage(heading string, errs []string, handle string) string {
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	fmt.Fprintf(&b, "\nReply with '%s help' for examples.", handle)
	return b.String()
}

func openChallengeMessage(handle string) string {
	return fmt.Sprintf("⚠️ You already have an open challenge. Check it with '%s status'.", handle)
}

const noPledgeTargetMessage = "🤷 To pledge a bounty, reply to an open bounty challenge post."
