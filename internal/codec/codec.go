package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EncodeBase is the radix of the positional tag representation. Every tag
// embedded in a message header is a user id rendered in this base.
const EncodeBase = 32

// HeaderPrefix is the long-form marker carried by published channel posts.
const HeaderPrefix = "Confession"

var (
	ErrBadTag    = errors.New("malformed identity tag")
	ErrBadHeader = errors.New("unparseable message header")

	headerRe = regexp.MustCompile(`^(?:` + HeaderPrefix + `-)?([0-9a-v]+)-([0-9]+)$`)
)

// Encode renders a positive user id as an opaque tag.
func Encode(userID int64) string {
	if userID <= 0 {
		return ""
	}
	return strconv.FormatInt(userID, EncodeBase)
}

// Decode is the inverse of Encode. A malformed tag yields ErrBadTag, never a
// panic; callers are expected to drop the message and take no action.
func Decode(tag string) (int64, error) {
	if tag == "" {
		return 0, ErrBadTag
	}
	id, err := strconv.ParseInt(tag, EncodeBase, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadTag
	}
	return id, nil
}

// FormatHeader emits the long header form a published post carries as its
// first line.
func FormatHeader(userID int64, postID int) string {
	return fmt.Sprintf("%s-%s-%d", HeaderPrefix, Encode(userID), postID)
}

// FormatPendingHeader emits the short form used on review-channel items,
// where the second field is the author's original message id.
func FormatPendingHeader(userID int64, messageID int) string {
	return fmt.Sprintf("%s-%d", Encode(userID), messageID)
}

// ParseHeader extracts the author id and post id from the first line of a
// message. Both the short `<tag>-<postID>` and the long
// `Confession-<tag>-<postID>` forms are accepted.
func ParseHeader(text string) (userID int64, postID int, err error) {
	firstLine, _, _ := strings.Cut(text, "\n")
	m := headerRe.FindStringSubmatch(strings.TrimSpace(firstLine))
	if m == nil {
		return 0, 0, ErrBadHeader
	}
	userID, err = Decode(m[1])
	if err != nil {
		return 0, 0, err
	}
	postID, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, ErrBadHeader
	}
	return userID, postID, nil
}

// StripHeader returns the message body without its identity header. If no
// header is present the text is returned untouched.
func StripHeader(text string) string {
	firstLine, rest, found := strings.Cut(text, "\n")
	if !headerRe.MatchString(strings.TrimSpace(firstLine)) {
		return text
	}
	if !found {
		return ""
	}
	return strings.TrimLeft(rest, "\n")
}
