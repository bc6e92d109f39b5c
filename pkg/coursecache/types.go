package coursecache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is the canonical numeric identifier used throughout the cache layer. The server is not
// consistent about whether identifiers arrive as JSON numbers or numeric strings, so decoding
// canonicalizes both forms once, at the API boundary. Cache lookups never compare mixed forms.
type ID int64

// ParseID converts an identifier from its string form, e.g. a command-line argument.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %q", s)
	}
	return ID(n), nil
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "null" || trimmed == "" {
		*id = 0
		return nil
	}
	parsed, err := ParseID(trimmed)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Video is a course video record. A Video is owned by its parent course's Videos sequence;
// CourseID is a logical parent reference, not an ownership pointer.
type Video struct {
	ID          ID     `json:"id"`
	CourseID    ID     `json:"courseId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"` // storage locator for the media payload
}

// Course is a course record together with its ordered video sequence.
type Course struct {
	ID          ID      `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Videos      []Video `json:"videos"`
}

// NewCourse holds the fields submitted when creating a course.
type NewCourse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// CoursePatch holds the course fields an update may change. Nil fields are not sent.
type CoursePatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// VideoPatch holds the video metadata fields an update may change. Nil fields are not sent.
type VideoPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// applyCoursePatch overlays the fields present in body onto dst: server fields win, untouched
// local fields survive. The videos sequence follows its own rules. When body omits videos, the
// existing sequence is preserved. When body carries a videos field that is not a proper sequence,
// the sequence resets to empty rather than being left in an ambiguous shape.
func applyCoursePatch(dst *Course, body []byte) error {
	overlay := struct {
		*Course
		Videos json.RawMessage `json:"videos"` // shadows Course.Videos during the overlay
	}{Course: dst}
	if err := json.Unmarshal(body, &overlay); err != nil {
		return err
	}
	if overlay.Videos == nil {
		return nil
	}
	var videos []Video
	if err := json.Unmarshal(overlay.Videos, &videos); err != nil {
		dst.Videos = []Video{}
		return nil
	}
	if videos == nil {
		videos = []Video{}
	}
	dst.Videos = videos
	return nil
}

// applyVideoPatch overlays the fields present in body onto dst.
func applyVideoPatch(dst *Video, body []byte) error {
	return json.Unmarshal(body, dst)
}

// cloneCourse copies a course without sharing its videos sequence. An empty sequence stays empty
// rather than collapsing to an absent one.
func cloneCourse(course Course) Course {
	if course.Videos != nil {
		course.Videos = append([]Video{}, course.Videos...)
	}
	return course
}
