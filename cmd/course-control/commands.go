package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edukit/course-client/pkg/cli"
	"github.com/edukit/course-client/pkg/coursecache"
	"github.com/edukit/course-client/pkg/session"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrRequiresSession = errors.New("command requires a logged-in session (run course-login first)")
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error

type Command struct {
	help         string
	requiresAuth bool // True if the command needs a logged-in session
	args         []Argument
	optional     []Argument
	handler      Handler
}

func optionalPatchField(args map[string]string, name string) *string {
	if value, ok := args[name]; ok {
		return &value
	}
	return nil
}

func printCourse(course *coursecache.Course) {
	fmt.Printf("[%s] %s\n", course.ID, course.Name)
	if course.Category != "" {
		fmt.Printf("    category: %s\n", course.Category)
	}
	if course.Description != "" {
		fmt.Printf("    %s\n", course.Description)
	}
	for _, video := range course.Videos {
		fmt.Printf("    video [%s] %s (%s)\n", video.ID, video.Name, video.URL)
	}
}

func execute(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}
	if info.requiresAuth && !manager.Authenticated() {
		return ErrRequiresSession
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args), len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, manager, courses, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var commands = map[string]*Command{
	"list": &Command{
		help:         "List all courses",
		requiresAuth: true,
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			records, err := courses.FetchAllCourses(ctx)
			if err != nil {
				return err
			}
			for i := range records {
				printCourse(&records[i])
			}
			return nil
		},
	},
	"show": &Command{
		help:         "Show one course and its videos",
		requiresAuth: true,
		args: []Argument{
			Argument{name: "COURSE_ID", help: "Course identifier"},
		},
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			id, err := coursecache.ParseID(args["COURSE_ID"])
			if err != nil {
				return err
			}
			course, err := courses.FetchCourse(ctx, id)
			if err != nil {
				return err
			}
			printCourse(course)
			return nil
		},
	},
	"create": &Command{
		help:         "Create a new course",
		requiresAuth: true,
		args: []Argument{
			Argument{name: "NAME", help: "Course name"},
		},
		optional: []Argument{
			Argument{name: "DESCRIPTION", help: "Course description"},
			Argument{name: "CATEGORY", help: "Course category"},
		},
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			course, err := courses.CreateCourse(ctx, coursecache.NewCourse{
				Name:        args["NAME"],
				Description: args["DESCRIPTION"],
				Category:    args["CATEGORY"],
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created course %s\n", course.ID)
			return nil
		},
	},
	"update": &Command{
		help:         "Update a course's fields",
		requiresAuth: true,
		args: []Argument{
			Argument{name: "COURSE_ID", help: "Course identifier"},
			Argument{name: "NAME", help: "New course name"},
		},
		optional: []Argument{
			Argument{name: "DESCRIPTION", help: "New course description"},
			Argument{name: "CATEGORY", help: "New course category"},
		},
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			id, err := coursecache.ParseID(args["COURSE_ID"])
			if err != nil {
				return err
			}
			name := args["NAME"]
			course, err := courses.UpdateCourse(ctx, id, coursecache.CoursePatch{
				Name:        &name,
				Description: optionalPatchField(args, "DESCRIPTION"),
				Category:    optionalPatchField(args, "CATEGORY"),
			})
			if err != nil {
				return err
			}
			printCourse(course)
			return nil
		},
	},
	"delete": &Command{
		help:         "Delete a course",
		requiresAuth: true,
		args: []Argument{
			Argument{name: "COURSE_ID", help: "Course identifier"},
		},
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			id, err := coursecache.ParseID(args["COURSE_ID"])
			if err != nil {
				return err
			}
			return courses.DeleteCourse(ctx, id)
		},
	},
	"add-video": &Command{
		help:         "Upload a video to a course",
		requiresAuth: true,
		args: []Argument{
			Argument{name: "COURSE_ID", help: "Course identifier"},
			Argument{name: "NAME", help: "Video name"},
			Argument{name: "FILE", help: "Path to the media file"},
		},
		optional: []Argument{
			Argument{name: "DESCRIPTION", help: "Video description"},
		},
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			id, err := coursecache.ParseID(args["COURSE_ID"])
			if err != nil {
				return err
			}
			media, err := os.Open(args["FILE"])
			if err != nil {
				return err
			}
			defer media.Close()
			video, err := courses.AddVideoWithUpload(ctx, coursecache.VideoUpload{
				CourseID:    id,
				Name:        args["NAME"],
				Description: args["DESCRIPTION"],
				Filename:    filepath.Base(args["FILE"]),
				Media:       media,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded video %s (%s)\n", video.ID, video.URL)
			return nil
		},
	},
	"update-video": &Command{
		help:         "Update a video's metadata",
		requiresAuth: true,
		args: []Argument{
			Argument{name: "VIDEO_ID", help: "Video identifier"},
			Argument{name: "NAME", help: "New video name"},
		},
		optional: []Argument{
			Argument{name: "DESCRIPTION", help: "New video description"},
		},
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			id, err := coursecache.ParseID(args["VIDEO_ID"])
			if err != nil {
				return err
			}
			name := args["NAME"]
			video, err := courses.UpdateVideoMetadata(ctx, id, coursecache.VideoPatch{
				Name:        &name,
				Description: optionalPatchField(args, "DESCRIPTION"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Updated video [%s] %s\n", video.ID, video.Name)
			return nil
		},
	},
	"rm-video": &Command{
		help:         "Delete a video",
		requiresAuth: true,
		args: []Argument{
			Argument{name: "VIDEO_ID", help: "Video identifier"},
		},
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			id, err := coursecache.ParseID(args["VIDEO_ID"])
			if err != nil {
				return err
			}
			return courses.DeleteCourseVideo(ctx, id)
		},
	},
	"whoami": &Command{
		help:         "Show the logged-in user",
		requiresAuth: true,
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			profile := manager.User()
			fmt.Printf("%s <%s> (%s)\n", profile.Name, profile.Email, profile.Role)
			if meta, err := session.ParseTokenMetadata(manager.Token()); err == nil && !meta.ExpiresAt.IsZero() {
				fmt.Printf("Session token expires %s\n", meta.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	},
	"validate": &Command{
		help:         "Check whether the stored session is still accepted by the server",
		requiresAuth: true,
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			if !manager.Validate(ctx) {
				return errors.New("session is no longer valid")
			}
			fmt.Println("Session is valid")
			return nil
		},
	},
	"register": &Command{
		help: "Create a new account",
		args: []Argument{
			Argument{name: "EMAIL", help: "Account email address"},
			Argument{name: "NAME", help: "Display name"},
		},
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			password, err := cli.ReadPassword("Password")
			if err != nil {
				return err
			}
			raw, err := manager.Register(ctx, map[string]string{
				"email":    args["EMAIL"],
				"name":     args["NAME"],
				"password": password,
			})
			if err != nil {
				return err
			}
			var created struct {
				ID json.Number `json:"id"`
			}
			if json.Unmarshal(raw, &created) == nil && created.ID != "" {
				fmt.Printf("Created account %s\n", created.ID)
			}
			return nil
		},
	},
	"logout": &Command{
		help: "End the session and clear stored credentials",
		handler: func(ctx context.Context, manager *session.Manager, courses *coursecache.Cache, args map[string]string) error {
			manager.Logout(ctx)
			return nil
		},
	},
}
