package llm

import (
	"strings"

	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

// attachmentHeader is the stable prefix synthesized attachment text is
// appended under. Kept as a constant so every driver produces byte-identical
// output for the same inputs.
const attachmentHeader = "\n\n# ATTACHED FILES\n\n"

// NormalizedMessage is the shared intermediate form every driver's
// NormalizeMessages reduces a chain to, before translating into its own
// wire-format payload. Keeping this one step shared means the role-alias,
// system-lifting, empty-drop, and attachment-synthesis rules are enforced
// once rather than once per driver.
type NormalizedMessage struct {
	Role    types.Role
	Content string
}

// Normalize applies the universal rules from the provider contract:
//   - collapse role aliases to {system, user, assistant}
//   - lift the leading system message into a side channel when
//     liftSystem is true (Anthropic/Gemini style); otherwise keep it as the
//     first message in the returned slice
//   - drop empty-content messages except the trailing user message
//   - synthesize attachment bodies into the owning user message's content
//
// Returns the normalized turn list and the system instruction for the side
// channel: systemInstruction when it is non-empty (whether or not anything
// was lifted), otherwise the lifted leading system message's content, and
// empty if there is neither.
func Normalize(chain []types.Message, systemInstruction string, liftSystem bool) (turns []NormalizedMessage, lifted string) {
	lifted = systemInstruction

	work := make([]types.Message, 0, len(chain))
	for _, m := range chain {
		m.Role = types.NormalizeRole(string(m.Role))
		work = append(work, m)
	}

	if liftSystem && len(work) > 0 && work[0].Role == types.RoleSystem {
		if lifted == "" {
			lifted = work[0].Content
		}
		work = work[1:]
	}

	turns = make([]NormalizedMessage, 0, len(work))
	for i, m := range work {
		content := withAttachments(m)
		isTrailingUser := i == len(work)-1 && m.Role == types.RoleUser
		if content == "" && !isTrailingUser {
			continue
		}
		turns = append(turns, NormalizedMessage{Role: m.Role, Content: content})
	}
	return turns, lifted
}

// withAttachments appends every attachment body to m's content using the
// stable per-file delimiter, in attachment order.
func withAttachments(m types.Message) string {
	if len(m.Attachments) == 0 {
		return m.Content
	}
	var b strings.Builder
	b.WriteString(m.Content)
	b.WriteString(attachmentHeader)
	for _, a := range m.Attachments {
		b.WriteString("### FILE: ")
		b.WriteString(a.FileName)
		b.WriteByte('\n')
		b.WriteString(a.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
