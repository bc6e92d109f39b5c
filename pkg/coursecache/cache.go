// Package coursecache keeps an in-memory cache of course records consistent with server-side
// mutations.
//
// A Cache owns the course collection and a single "active" course slot, the record currently
// loaded for detailed viewing or editing. Every mutating operation round-trips through the
// authenticated client, then folds the (possibly partial) server response into the local state
// under a resource-specific merge rule, so that untouched local fields survive partial updates.
//
// Overlapping operations are unordered with respect to each other: the cache reflects whichever
// response resolves last. The Loading and LastError accessors are cosmetic UI hints shared across
// operations; correctness comes from each call's own return values.
package coursecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/edukit/course-client/internal/log"
	"github.com/edukit/course-client/pkg/client"
)

var errUnexpectedResponse = errors.New("server returned an unexpected response")

// Cache holds the course collection and the active-course slot.
type Cache struct {
	client *client.Client

	mu      sync.Mutex
	courses []Course
	current *Course
	loading bool
	lastErr string
}

// New returns an empty Cache that issues requests through c.
func New(c *client.Client) *Cache {
	return &Cache{client: c}
}

// FetchAllCourses replaces the entire collection with the server's list.
func (s *Cache) FetchAllCourses(ctx context.Context) (courses []Course, err error) {
	defer s.begin()(&err)

	body, err := s.roundTrip(ctx, "courses", client.Request{})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &courses); err != nil {
		log.Error("Malformed course list: %s", err)
		return nil, errUnexpectedResponse
	}

	s.mu.Lock()
	s.courses = append([]Course(nil), courses...)
	s.mu.Unlock()
	return courses, nil
}

// FetchCourse loads a single course into the active-course slot. A record that lacks a videos
// sequence gets an empty one, never an absent one, so consumers can always iterate it. On
// failure the active slot is cleared.
func (s *Cache) FetchCourse(ctx context.Context, id ID) (course *Course, err error) {
	defer s.begin()(&err)

	body, err := s.roundTrip(ctx, "courses/"+id.String(), client.Request{})
	if err != nil {
		s.clearActive()
		return nil, err
	}
	var loaded Course
	if err := applyCoursePatch(&loaded, body); err != nil {
		log.Error("Malformed course record: %s", err)
		s.clearActive()
		return nil, errUnexpectedResponse
	}
	if loaded.Videos == nil {
		loaded.Videos = []Video{}
	}

	s.mu.Lock()
	s.current = &loaded
	s.mu.Unlock()
	copied := cloneCourse(loaded)
	return &copied, nil
}

// CreateCourse submits a new course and returns the server's record. The collection cache is not
// touched; callers reload or insert as their flow requires.
func (s *Cache) CreateCourse(ctx context.Context, course NewCourse) (created *Course, err error) {
	defer s.begin()(&err)

	payload, err := json.Marshal(course)
	if err != nil {
		return nil, err
	}
	body, err := s.roundTrip(ctx, "courses", client.Request{Method: http.MethodPost, Body: bytes.NewReader(payload)})
	if err != nil {
		return nil, err
	}
	var record Course
	if err := json.Unmarshal(body, &record); err != nil {
		log.Error("Malformed course record: %s", err)
		return nil, errUnexpectedResponse
	}
	return &record, nil
}

// UpdateCourse submits a partial course update and overlays the response onto the matching
// collection entry and, when it refers to the same identity, the active course. A response that
// omits videos leaves the existing sequence unchanged.
func (s *Cache) UpdateCourse(ctx context.Context, id ID, patch CoursePatch) (updated *Course, err error) {
	defer s.begin()(&err)

	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	body, err := s.roundTrip(ctx, "courses/"+id.String(), client.Request{Method: http.MethodPut, Body: bytes.NewReader(payload)})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var merged *Course
	if i := s.indexLocked(id); i >= 0 {
		if err := applyCoursePatch(&s.courses[i], body); err != nil {
			log.Error("Malformed course record: %s", err)
			return nil, errUnexpectedResponse
		}
		copied := cloneCourse(s.courses[i])
		merged = &copied
	}
	if s.current != nil && s.current.ID == id {
		if err := applyCoursePatch(s.current, body); err != nil {
			log.Error("Malformed course record: %s", err)
			return nil, errUnexpectedResponse
		}
		copied := cloneCourse(*s.current)
		merged = &copied
	}
	if merged == nil {
		// Identity not cached; hand back the server record alone.
		var record Course
		if err := applyCoursePatch(&record, body); err != nil {
			log.Error("Malformed course record: %s", err)
			return nil, errUnexpectedResponse
		}
		merged = &record
	}
	return merged, nil
}

// DeleteCourse removes the matching entry from the collection and clears the active-course slot
// when it refers to the same identity.
func (s *Cache) DeleteCourse(ctx context.Context, id ID) (err error) {
	defer s.begin()(&err)

	if _, err := s.roundTrip(ctx, "courses/"+id.String(), client.Request{Method: http.MethodDelete}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		s.courses = append(s.courses[:i], s.courses[i+1:]...)
	}
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
	return nil
}

// VideoUpload describes a multipart upload of a new course video.
type VideoUpload struct {
	CourseID    ID
	Name        string
	Description string
	Filename    string
	Media       io.Reader
}

// AddVideoWithUpload uploads a video's metadata and media payload in a single multipart request.
// On success the returned record is appended to the active course's video sequence, but only when
// the active course matches the course uploaded against; the course collection is not touched.
func (s *Cache) AddVideoWithUpload(ctx context.Context, upload VideoUpload) (video *Video, err error) {
	defer s.begin()(&err)

	var buffer bytes.Buffer
	form := multipart.NewWriter(&buffer)
	if err := writeUploadForm(form, upload); err != nil {
		return nil, err
	}
	body, err := s.roundTrip(ctx, "courseVideos/upload", client.Request{
		Method:      http.MethodPost,
		Body:        &buffer,
		ContentType: form.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}

	var record Video
	if err := json.Unmarshal(body, &record); err != nil {
		log.Error("Malformed video record: %s", err)
		return nil, errUnexpectedResponse
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == upload.CourseID {
		s.current.Videos = append(s.current.Videos, record)
	}
	s.mu.Unlock()
	return &record, nil
}

func writeUploadForm(form *multipart.Writer, upload VideoUpload) error {
	if err := form.WriteField("courseId", upload.CourseID.String()); err != nil {
		return err
	}
	if err := form.WriteField("name", upload.Name); err != nil {
		return err
	}
	if upload.Description != "" {
		if err := form.WriteField("description", upload.Description); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("video", upload.Filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, upload.Media); err != nil {
		return err
	}
	return form.Close()
}

// UpdateVideoMetadata submits a partial video update. The response nests the updated record under
// a data field; it is overlaid onto the matching video within the active course's sequence. When
// no match is found the response is dropped, never inserted.
func (s *Cache) UpdateVideoMetadata(ctx context.Context, videoID ID, patch VideoPatch) (video *Video, err error) {
	defer s.begin()(&err)

	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	body, err := s.roundTrip(ctx, "courseVideos/"+videoID.String(), client.Request{Method: http.MethodPut, Body: bytes.NewReader(payload)})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		log.Error("Malformed video update response")
		return nil, errUnexpectedResponse
	}
	var record Video
	if err := json.Unmarshal(envelope.Data, &record); err != nil {
		log.Error("Malformed video record: %s", err)
		return nil, errUnexpectedResponse
	}
	id := record.ID
	if id == 0 {
		id = videoID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		for i := range s.current.Videos {
			if s.current.Videos[i].ID == id {
				if err := applyVideoPatch(&s.current.Videos[i], envelope.Data); err != nil {
					log.Error("Malformed video record: %s", err)
					return nil, errUnexpectedResponse
				}
				merged := s.current.Videos[i]
				return &merged, nil
			}
		}
	}
	return &record, nil
}

// DeleteCourseVideo removes the matching video from the active course's sequence. No local action
// is taken when no active course is loaded.
func (s *Cache) DeleteCourseVideo(ctx context.Context, videoID ID) (err error) {
	defer s.begin()(&err)

	if _, err := s.roundTrip(ctx, "courseVideos/"+videoID.String(), client.Request{Method: http.MethodDelete}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	videos := s.current.Videos[:0]
	for _, video := range s.current.Videos {
		if video.ID != videoID {
			videos = append(videos, video)
		}
	}
	s.current.Videos = videos
	return nil
}

// Courses returns a copy of the cached collection.
func (s *Cache) Courses() []Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	courses := make([]Course, len(s.courses))
	for i, course := range s.courses {
		courses[i] = cloneCourse(course)
	}
	return courses
}

// CourseByID returns a copy of the cached collection entry with the given identity.
func (s *Cache) CourseByID(id ID) (*Course, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		course := cloneCourse(s.courses[i])
		return &course, true
	}
	return nil, false
}

// ActiveCourse returns a copy of the active course, or nil when none is loaded.
func (s *Cache) ActiveCourse() *Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	course := cloneCourse(*s.current)
	return &course
}

// ActiveVideos returns a copy of the active course's video sequence, empty when no course is
// loaded.
func (s *Cache) ActiveVideos() []Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return []Video{}
	}
	return append([]Video{}, s.current.Videos...)
}

// Loading reports whether any operation is in flight. Cosmetic UI hint; see the package comment.
func (s *Cache) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError returns the failure message of the most recent operation, or "" after a success.
// Cosmetic UI hint; see the package comment.
func (s *Cache) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// begin marks an operation in flight and returns the cleanup that records its outcome. The
// loading flag is reset on every exit path.
func (s *Cache) begin() func(*error) {
	s.mu.Lock()
	s.loading = true
	s.lastErr = ""
	s.mu.Unlock()
	return func(err *error) {
		s.mu.Lock()
		s.loading = false
		if *err != nil {
			s.lastErr = (*err).Error()
		}
		s.mu.Unlock()
	}
}

// roundTrip sends one authenticated request and returns the response body on HTTP success. Error
// bodies are parsed defensively for a server-supplied message, falling back to the transport
// status text.
func (s *Cache) roundTrip(ctx context.Context, endpoint string, req client.Request) ([]byte, error) {
	response, err := s.client.Send(ctx, endpoint, req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	body, err := client.ReadBody(response)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", endpoint, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, client.DecodeStatusError(response.StatusCode, body, "")
	}
	return body, nil
}

func (s *Cache) clearActive() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Cache) indexLocked(id ID) int {
	for i := range s.courses {
		if s.courses[i].ID == id {
			return i
		}
	}
	return -1
}
