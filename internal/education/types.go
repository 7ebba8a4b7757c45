package education

import (
	"fmt"
	"strings"
)

// File types as reported by the education API.
const (
	FileTypeTask    = 0
	FileTypeLecture = 1
)

type User struct {
	ID             int64  `json:"id"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Surname        string `json:"surname"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	StudyGroupID   *int64 `json:"studyGroupId"`
	StudyGroupName string `json:"studyGroupName"`
}

func (u User) DisplayName() string {
	return joinNonEmpty(" ", u.LastName, u.FirstName, u.Surname)
}

// Data is the text sent to a chat when the user is selected.
func (u User) Data() string {
	lines := []string{u.DisplayName()}
	if u.StudyGroupName != "" {
		lines = append(lines, "Группа: "+u.StudyGroupName)
	}
	if u.Email != "" {
		lines = append(lines, "Email: "+u.Email)
	}
	if u.Phone != "" {
		lines = append(lines, "Телефон: "+u.Phone)
	}
	return joinNonEmpty("\n", lines...)
}

type File struct {
	ID          int64  `json:"id"`
	FileName    string `json:"fileName"`
	Type        int    `json:"type"`
	SubjectName string `json:"subjectName"`
}

func (f File) DisplayName() string {
	if f.SubjectName == "" {
		return f.FileName
	}
	return f.SubjectName + ": " + f.FileName
}

type Lesson struct {
	SubjectName string `json:"subjectName"`
	TeacherName string `json:"teacherName"`
	LessonType  string `json:"lessonType"`
	Auditory    string `json:"auditory"`
	WeekDay     int64  `json:"weekDay"`
	WeekNumber  int64  `json:"weekNumber"`
	LessonTime  int64  `json:"lessonTime"`
}

// Data renders the lesson as one timetable line.
func (l Lesson) Data() string {
	line := fmt.Sprintf("%d. %s", l.LessonTime, l.SubjectName)
	if l.LessonType != "" {
		line += " (" + l.LessonType + ")"
	}
	if details := joinNonEmpty(", ", l.TeacherName, l.Auditory); details != "" {
		line += " - " + details
	}
	return line
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
