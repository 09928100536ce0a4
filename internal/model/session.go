package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Cursor is a participant's last-known caret position.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Participant represents a connected user within one session.
type Participant struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	Cursor *Cursor `json:"cursor,omitempty"`
}

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	c := *p
	if p.Cursor != nil {
		cursor := *p.Cursor
		c.Cursor = &cursor
	}
	return &c
}

// File is an attachment shared within a session. Text files carry their
// content verbatim; all other files carry base64-encoded bytes.
type File struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Size         int64           `json:"size"`
	Content      string          `json:"content"`
	UploadedBy   string          `json:"uploadedBy"`
	UploadedAt   time.Time       `json:"uploadedAt"`
	IsTextFile   bool            `json:"isTextFile"`
	Category     string          `json:"category,omitempty"`
	CanPreview   *bool           `json:"canPreview,omitempty"`
	FileTypeInfo json.RawMessage `json:"fileTypeInfo,omitempty"`
	Warning      string          `json:"warning,omitempty"`
}

// Clone returns a copy of the file. Content is an immutable string, so only
// the raw type annotation needs copying.
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	c := *f
	if f.CanPreview != nil {
		v := *f.CanPreview
		c.CanPreview = &v
	}
	if f.FileTypeInfo != nil {
		c.FileTypeInfo = append(json.RawMessage(nil), f.FileTypeInfo...)
	}
	return &c
}

// Session is the shared document state: content, participants and files.
//
// Content follows last-writer-wins semantics: every edit replaces the whole
// document. A merge-based engine would slot in behind the same store API.
type Session struct {
	ID           string                  `json:"id"`
	Content      string                  `json:"content"`
	Language     string                  `json:"language"`
	Participants map[string]*Participant `json:"participants"`
	Files        map[string]*File        `json:"files"`
	CreatedAt    time.Time               `json:"createdAt"`
	LastModified time.Time               `json:"lastModified"`
}

// NewSession creates an empty session with the given placeholder content.
func NewSession(id, content, language string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Content:      content,
		Language:     language,
		Participants: make(map[string]*Participant),
		Files:        make(map[string]*File),
		CreatedAt:    now,
		LastModified: now,
	}
}

// Clone returns a deep copy that can be read without holding any lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		c.Participants[id] = p.Clone()
	}
	c.Files = make(map[string]*File, len(s.Files))
	for id, f := range s.Files {
		c.Files[id] = f.Clone()
	}
	return &c
}

// FileList returns copies of the session's files ordered by upload time,
// then by id.
func (s *Session) FileList() []File {
	files := make([]File, 0, len(s.Files))
	for _, f := range s.Files {
		files = append(files, *f.Clone())
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].UploadedAt.Equal(files[j].UploadedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].UploadedAt.Before(files[j].UploadedAt)
	})
	return files
}

// ParticipantList returns copies of the session's participants ordered by id.
func (s *Session) ParticipantList() []Participant {
	participants := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, *p.Clone())
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ID < participants[j].ID
	})
	return participants
}

// Info summarizes the session for listings and history records.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:               s.ID,
		Language:         s.Language,
		ContentLength:    len(s.Content),
		ParticipantCount: len(s.Participants),
		FileCount:        len(s.Files),
		CreatedAt:        s.CreatedAt,
		LastModified:     s.LastModified,
	}
}

// SessionInfo is a lock-free summary of a session.
type SessionInfo struct {
	ID               string    `json:"id"`
	Language         string    `json:"language"`
	ContentLength    int       `json:"contentLength"`
	ParticipantCount int       `json:"participantCount"`
	FileCount        int       `json:"fileCount"`
	PeakParticipants int       `json:"peakParticipants"`
	CreatedAt        time.Time `json:"createdAt"`
	LastModified     time.Time `json:"lastModified"`
}

// HistoryRecord is a persisted entry in the session history.
type HistoryRecord struct {
	ID               string     `json:"id"`
	Language         string     `json:"language"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastModified     time.Time  `json:"lastModified"`
	EvictedAt        *time.Time `json:"evictedAt,omitempty"`
	FileCount        int        `json:"fileCount"`
	PeakParticipants int        `json:"peakParticipants"`
}

// Active reports whether the session had not been evicted when recorded.
func (r *HistoryRecord) Active() bool {
	return r.EvictedAt == nil
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	Active *bool
	Limit  int
	Offset int
}
