// Package education is a client for the university's education app API, which
// serves user, timetable and file data per study group.
package education

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	login "github.com/tcomad/unibot"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	h       *http.Client
	baseUrl *url.URL
}

type ClientArgs struct {
	H       *http.Client
	BaseUrl string
	// When ClientId is set, requests carry a bearer token obtained with the
	// client credentials grant at TokenUrl.
	TokenUrl     string
	ClientId     string
	ClientSecret string
}

func NewClient(ctx context.Context, args ClientArgs) (*Client, error) {
	if args.BaseUrl == "" {
		return nil, fmt.Errorf("no base url provided")
	}

	u, err := url.Parse(args.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("could not parse base url: %w", err)
	}

	if args.H == nil {
		args.H = &http.Client{
			Timeout: login.DefaultHTTPTimeout,
		}
	}

	h := args.H
	if args.ClientId != "" {
		if args.TokenUrl == "" {
			return nil, fmt.Errorf("no token url provided")
		}

		cc := &clientcredentials.Config{
			ClientID:     args.ClientId,
			ClientSecret: args.ClientSecret,
			TokenURL:     args.TokenUrl,
			AuthStyle:    oauth2.AuthStyleInParams,
		}

		h = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, args.H))
		h.Timeout = args.H.Timeout
	}

	return &Client{h: h, baseUrl: u}, nil
}

func (c *Client) endpoint(path ...string) string {
	return c.baseUrl.JoinPath(path...).String()
}

func (c *Client) get(ctx context.Context, ustr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", ustr, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.h.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not get response from education api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("received non-200 response from education api. code was %d", resp.StatusCode)
	}

	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, ustr string, out any) error {
	resp, err := c.get(ctx, ustr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not unmarshal json: %w", err)
	}

	return nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.getJSON(ctx, c.endpoint("api", "users", id), &u); err != nil {
		return nil, err
	}

	return &u, nil
}

// LookupUser resolves an identity token subject for the login flow.
func (c *Client) LookupUser(ctx context.Context, subject string) (*login.DirectoryUser, error) {
	if subject == "" {
		return nil, ErrNotFound
	}

	u, err := c.GetUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	return &login.DirectoryUser{
		FirstName: u.FirstName,
		GroupID:   u.StudyGroupID,
	}, nil
}

func (c *Client) groupList(ctx context.Context, groupID int64, what string, out any) error {
	return c.getJSON(ctx, c.endpoint("api", "groups", strconv.FormatInt(groupID, 10), what), out)
}

func (c *Client) GetStudents(ctx context.Context, groupID int64) ([]User, error) {
	var users []User
	if err := c.groupList(ctx, groupID, "students", &users); err != nil {
		return nil, err
	}

	return users, nil
}

func (c *Client) GetTeachers(ctx context.Context, groupID int64) ([]User, error) {
	var users []User
	if err := c.groupList(ctx, groupID, "teachers", &users); err != nil {
		return nil, err
	}

	return users, nil
}

func (c *Client) GetFiles(ctx context.Context, groupID int64) ([]File, error) {
	var files []File
	if err := c.groupList(ctx, groupID, "files", &files); err != nil {
		return nil, err
	}

	return files, nil
}

func (c *Client) GetLessons(ctx context.Context, groupID int64) ([]Lesson, error) {
	var lessons []Lesson
	if err := c.groupList(ctx, groupID, "lessons", &lessons); err != nil {
		return nil, err
	}

	return lessons, nil
}

// Download is an open file body. Callers must close Body.
type Download struct {
	Name string
	Body io.ReadCloser
}

func (c *Client) DownloadFile(ctx context.Context, id int64) (*Download, error) {
	sid := strconv.FormatInt(id, 10)

	resp, err := c.get(ctx, c.endpoint("api", "files", sid))
	if err != nil {
		return nil, err
	}

	name := sid
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}

	return &Download{Name: name, Body: resp.Body}, nil
}
