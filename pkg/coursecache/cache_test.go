package coursecache_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edukit/course-client/pkg/client"
	"github.com/edukit/course-client/pkg/coursecache"
	"github.com/edukit/course-client/pkg/session"
	"github.com/edukit/course-client/pkg/storage"
)

const host = "http://courses.example.com"

var _ = Describe("Cache", func() {
	var (
		manager *session.Manager
		cache   *coursecache.Cache
		ctx     context.Context
	)

	jsonResponder := func(method, path, body string) {
		httpmock.RegisterResponder(method, host+path,
			httpmock.NewStringResponder(http.StatusOK, body))
	}

	loadActive := func(id coursecache.ID, body string) *coursecache.Course {
		jsonResponder(http.MethodGet, fmt.Sprintf("/courses/%d", id), body)
		course, err := cache.FetchCourse(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return course
	}

	BeforeEach(func() {
		httpmock.Activate()
		DeferCleanup(httpmock.DeactivateAndReset)

		ctx = context.Background()
		persistent := storage.NewMemory()
		Expect(persistent.Set(storage.KeyAuthToken, "tok1")).To(Succeed())
		Expect(persistent.Set(storage.KeyUserData, `{"id":1,"name":"Ana","email":"a@x.com","role":"admin"}`)).To(Succeed())
		manager = session.NewManager(host, persistent, storage.NewMemory())
		Expect(manager.Initialize()).To(Succeed())
		cache = coursecache.New(client.New(host, manager))
	})

	Describe("fetching the collection", func() {
		It("replaces the collection with the server's list", func() {
			jsonResponder(http.MethodGet, "/courses", `[{"id":1,"name":"Go"},{"id":2,"name":"SQL"}]`)
			courses, err := cache.FetchAllCourses(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(courses).To(HaveLen(2))

			jsonResponder(http.MethodGet, "/courses", `[{"id":3,"name":"Rust"}]`)
			_, err = cache.FetchAllCourses(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.Courses()).To(HaveLen(1))
			Expect(cache.Courses()[0].Name).To(Equal("Rust"))
		})

		It("canonicalizes string identifiers at the API boundary", func() {
			jsonResponder(http.MethodGet, "/courses", `[{"id":"5","name":"Go"}]`)
			_, err := cache.FetchAllCourses(ctx)
			Expect(err).NotTo(HaveOccurred())
			course, ok := cache.CourseByID(5)
			Expect(ok).To(BeTrue())
			Expect(course.Name).To(Equal("Go"))
		})

		It("sends the bearer token", func() {
			var authorization string
			httpmock.RegisterResponder(http.MethodGet, host+"/courses",
				func(r *http.Request) (*http.Response, error) {
					authorization = r.Header.Get("Authorization")
					return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
				})
			_, err := cache.FetchAllCourses(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(authorization).To(Equal("Bearer tok1"))
		})

		It("reports server errors and always clears the loading flag", func() {
			httpmock.RegisterResponder(http.MethodGet, host+"/courses",
				httpmock.NewStringResponder(http.StatusInternalServerError, `{"message":"boom"}`))
			_, err := cache.FetchAllCourses(ctx)
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Status).To(Equal(http.StatusInternalServerError))
			Expect(cache.LastError()).To(Equal("boom"))
			Expect(cache.Loading()).To(BeFalse())
		})

		It("falls back to the status text for unparsable error bodies", func() {
			httpmock.RegisterResponder(http.MethodGet, host+"/courses",
				httpmock.NewStringResponder(http.StatusNotFound, `<html>`))
			_, err := cache.FetchAllCourses(ctx)
			Expect(err).To(MatchError("Not Found"))
		})
	})

	Describe("fetching one course", func() {
		It("loads the active course", func() {
			course := loadActive(5, `{"id":5,"name":"Go","videos":[{"id":9,"courseId":5,"name":"Intro"}]}`)
			Expect(course.Name).To(Equal("Go"))
			Expect(cache.ActiveVideos()).To(HaveLen(1))
		})

		It("defaults a missing videos sequence to empty, never absent", func() {
			course := loadActive(5, `{"id":5,"name":"Go"}`)
			Expect(course.Videos).NotTo(BeNil())
			Expect(course.Videos).To(BeEmpty())
			Expect(cache.ActiveCourse().Videos).NotTo(BeNil())
		})

		It("clears the active slot on failure", func() {
			loadActive(5, `{"id":5,"name":"Go"}`)
			httpmock.RegisterResponder(http.MethodGet, host+"/courses/6",
				httpmock.NewStringResponder(http.StatusNotFound, `{"message":"course not found"}`))
			_, err := cache.FetchCourse(ctx, 6)
			Expect(err).To(MatchError("course not found"))
			Expect(cache.ActiveCourse()).To(BeNil())
			Expect(cache.LastError()).To(Equal("course not found"))
		})
	})

	Describe("creating a course", func() {
		It("returns the record without touching the collection", func() {
			jsonResponder(http.MethodGet, "/courses", `[{"id":1,"name":"Go"}]`)
			_, err := cache.FetchAllCourses(ctx)
			Expect(err).NotTo(HaveOccurred())

			jsonResponder(http.MethodPost, "/courses", `{"id":2,"name":"SQL"}`)
			course, err := cache.CreateCourse(ctx, coursecache.NewCourse{Name: "SQL"})
			Expect(err).NotTo(HaveOccurred())
			Expect(course.ID).To(Equal(coursecache.ID(2)))
			Expect(cache.Courses()).To(HaveLen(1))
		})
	})

	Describe("updating a course", func() {
		name := func(s string) *string { return &s }

		It("overlays the response and preserves videos the response omits", func() {
			jsonResponder(http.MethodGet, "/courses", `[{"id":5,"name":"Old","description":"keep"}]`)
			_, err := cache.FetchAllCourses(ctx)
			Expect(err).NotTo(HaveOccurred())
			loadActive(5, `{"id":5,"name":"Old","videos":[{"id":9}]}`)

			jsonResponder(http.MethodPut, "/courses/5", `{"id":5,"name":"New"}`)
			course, err := cache.UpdateCourse(ctx, 5, coursecache.CoursePatch{Name: name("New")})
			Expect(err).NotTo(HaveOccurred())
			Expect(course.Name).To(Equal("New"))

			active := cache.ActiveCourse()
			Expect(active.Name).To(Equal("New"))
			Expect(active.Videos).To(HaveLen(1))
			Expect(active.Videos[0].ID).To(Equal(coursecache.ID(9)))

			entry, ok := cache.CourseByID(5)
			Expect(ok).To(BeTrue())
			Expect(entry.Name).To(Equal("New"))
			Expect(entry.Description).To(Equal("keep"))
		})

		It("resets videos to empty when the response carries a malformed sequence", func() {
			loadActive(5, `{"id":5,"name":"Old","videos":[{"id":9}]}`)
			jsonResponder(http.MethodPut, "/courses/5", `{"id":5,"name":"New","videos":"bogus"}`)
			_, err := cache.UpdateCourse(ctx, 5, coursecache.CoursePatch{Name: name("New")})
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.ActiveCourse().Videos).NotTo(BeNil())
			Expect(cache.ActiveCourse().Videos).To(BeEmpty())
		})

		It("returns the server record when the identity is not cached", func() {
			jsonResponder(http.MethodPut, "/courses/7", `{"id":7,"name":"New"}`)
			course, err := cache.UpdateCourse(ctx, 7, coursecache.CoursePatch{Name: name("New")})
			Expect(err).NotTo(HaveOccurred())
			Expect(course.ID).To(Equal(coursecache.ID(7)))
		})
	})

	Describe("deleting a course", func() {
		It("removes exactly the matching entry and clears a matching active slot", func() {
			jsonResponder(http.MethodGet, "/courses", `[{"id":5,"name":"Go"},{"id":6,"name":"SQL"}]`)
			_, err := cache.FetchAllCourses(ctx)
			Expect(err).NotTo(HaveOccurred())
			loadActive(5, `{"id":5,"name":"Go"}`)

			jsonResponder(http.MethodDelete, "/courses/5", `{}`)
			Expect(cache.DeleteCourse(ctx, 5)).To(Succeed())
			Expect(cache.Courses()).To(HaveLen(1))
			Expect(cache.Courses()[0].ID).To(Equal(coursecache.ID(6)))
			Expect(cache.ActiveCourse()).To(BeNil())
		})

		It("leaves a different active course in place", func() {
			loadActive(6, `{"id":6,"name":"SQL"}`)
			jsonResponder(http.MethodDelete, "/courses/5", `{}`)
			Expect(cache.DeleteCourse(ctx, 5)).To(Succeed())
			Expect(cache.ActiveCourse()).NotTo(BeNil())
		})
	})

	Describe("uploading a video", func() {
		It("appends the record to a matching active course", func() {
			loadActive(5, `{"id":5,"name":"Go"}`)

			var contentType string
			var fields map[string]string
			httpmock.RegisterResponder(http.MethodPost, host+"/courseVideos/upload",
				func(r *http.Request) (*http.Response, error) {
					contentType = r.Header.Get("Content-Type")
					Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
					fields = map[string]string{
						"courseId": r.FormValue("courseId"),
						"name":     r.FormValue("name"),
					}
					return httpmock.NewStringResponse(http.StatusCreated,
						`{"id":9,"courseId":5,"name":"Intro","url":"videos/9.mp4"}`), nil
				})

			video, err := cache.AddVideoWithUpload(ctx, coursecache.VideoUpload{
				CourseID: 5,
				Name:     "Intro",
				Filename: "intro.mp4",
				Media:    strings.NewReader("media bytes"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(video.URL).To(Equal("videos/9.mp4"))
			Expect(contentType).To(HavePrefix("multipart/form-data; boundary="))
			Expect(fields).To(Equal(map[string]string{"courseId": "5", "name": "Intro"}))
			Expect(cache.ActiveVideos()).To(HaveLen(1))
		})

		It("does not touch a non-matching active course", func() {
			loadActive(6, `{"id":6,"name":"SQL"}`)
			jsonResponder(http.MethodPost, "/courseVideos/upload", `{"id":9,"courseId":5,"name":"Intro"}`)
			_, err := cache.AddVideoWithUpload(ctx, coursecache.VideoUpload{
				CourseID: 5,
				Name:     "Intro",
				Filename: "intro.mp4",
				Media:    strings.NewReader("media bytes"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.ActiveVideos()).To(BeEmpty())
		})
	})

	Describe("updating video metadata", func() {
		name := func(s string) *string { return &s }

		It("merges the nested record into the matching video", func() {
			loadActive(5, `{"id":5,"videos":[{"id":9,"name":"Old","url":"videos/9.mp4"},{"id":10,"name":"Other"}]}`)
			jsonResponder(http.MethodPut, "/courseVideos/9", `{"message":"updated","data":{"id":9,"name":"New"}}`)
			video, err := cache.UpdateVideoMetadata(ctx, 9, coursecache.VideoPatch{Name: name("New")})
			Expect(err).NotTo(HaveOccurred())
			Expect(video.Name).To(Equal("New"))
			Expect(video.URL).To(Equal("videos/9.mp4"), "fields absent from the response survive")

			videos := cache.ActiveVideos()
			Expect(videos[0].Name).To(Equal("New"))
			Expect(videos[1].Name).To(Equal("Other"))
		})

		It("silently drops a record with no matching video", func() {
			loadActive(5, `{"id":5,"videos":[{"id":10,"name":"Other"}]}`)
			jsonResponder(http.MethodPut, "/courseVideos/9", `{"message":"updated","data":{"id":9,"name":"New"}}`)
			_, err := cache.UpdateVideoMetadata(ctx, 9, coursecache.VideoPatch{Name: name("New")})
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.ActiveVideos()).To(HaveLen(1))
			Expect(cache.ActiveVideos()[0].Name).To(Equal("Other"))
		})
	})

	Describe("deleting a video", func() {
		It("removes the matching video from the active course", func() {
			loadActive(5, `{"id":5,"videos":[{"id":9},{"id":10}]}`)
			jsonResponder(http.MethodDelete, "/courseVideos/9", `{}`)
			Expect(cache.DeleteCourseVideo(ctx, 9)).To(Succeed())
			videos := cache.ActiveVideos()
			Expect(videos).To(HaveLen(1))
			Expect(videos[0].ID).To(Equal(coursecache.ID(10)))
		})

		It("takes no local action without an active course", func() {
			jsonResponder(http.MethodDelete, "/courseVideos/9", `{}`)
			Expect(cache.DeleteCourseVideo(ctx, 9)).To(Succeed())
			Expect(cache.ActiveCourse()).To(BeNil())
		})
	})

	Describe("session expiry", func() {
		It("clears the session on any unauthorized response", func() {
			httpmock.RegisterResponder(http.MethodGet, host+"/courses",
				httpmock.NewStringResponder(http.StatusUnauthorized, ``))
			httpmock.RegisterResponder(http.MethodPost, host+"/auth/logout",
				httpmock.NewStringResponder(http.StatusOK, `{}`))

			_, err := cache.FetchAllCourses(ctx)
			Expect(errors.Is(err, client.ErrSessionExpired)).To(BeTrue())
			Expect(manager.Authenticated()).To(BeFalse())
			Expect(manager.Token()).To(BeEmpty())
			Expect(cache.Loading()).To(BeFalse())
		})
	})
})
