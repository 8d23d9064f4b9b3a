package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fx-rate-alerts/internal/storage"
)

var dec100 = decimal.NewFromInt(100)

// Subject builds the notification subject line.
func Subject(prefix, base, target string) string {
	subject := fmt.Sprintf("%s/%s rate below %s average", base, target, windowLabel)
	if prefix != "" {
		subject = prefix + " " + subject
	}
	return subject
}

const windowLabel = "3-year"

// RenderBody builds the plain-text notification for one evaluation.
func RenderBody(eval storage.Evaluation, base, target string) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Base currency:   %s\n", base))
	builder.WriteString(fmt.Sprintf("Target currency: %s\n", target))
	builder.WriteString(fmt.Sprintf("Current rate:    %s\n", eval.CurrentRate.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("%s average:   %s\n", windowLabel, eval.AverageRate.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Status:          %s\n", eval.Status))
	builder.WriteString(fmt.Sprintf("Evaluated at:    %s\n", eval.RunTS.UTC().Format(time.RFC3339)))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("1 %s currently buys %s %s, %s%% below the %s %s trailing average.\n",
		base,
		eval.CurrentRate.StringFixed(4),
		target,
		belowPct(eval).StringFixed(2),
		eval.AverageRate.StringFixed(4),
		target,
	))
	return builder.String()
}

func belowPct(eval storage.Evaluation) decimal.Decimal {
	if eval.AverageRate.IsZero() {
		return decimal.Zero
	}
	return eval.AverageRate.Sub(eval.CurrentRate).Div(eval.AverageRate).Mul(dec100)
}
