package catalog

import (
	"regexp"
	"strings"
	"time"
)

// Project is a creative work owning characters and scenes.
type Project struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	DefaultStyle *string   `db:"default_style" json:"default_style,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// GenerationStyle is the project-wide visual contract. All characters within
// a project share it so outputs remain consistent.
type GenerationStyle struct {
	Name           string    `db:"name" json:"name"`
	Checkpoint     string    `db:"checkpoint" json:"checkpoint"`
	PositivePrompt string    `db:"positive_prompt" json:"positive_prompt"`
	NegativePrompt string    `db:"negative_prompt" json:"negative_prompt"`
	CfgScale       float64   `db:"cfg_scale" json:"cfg_scale"`
	Steps          int       `db:"steps" json:"steps"`
	Sampler        string    `db:"sampler" json:"sampler"`
	Scheduler      string    `db:"scheduler" json:"scheduler"`
	Width          int       `db:"width" json:"width"`
	Height         int       `db:"height" json:"height"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Character is a subject addressed everywhere by its project-unique slug.
type Character struct {
	ID              int64      `db:"id" json:"id"`
	ProjectID       string     `db:"project_id" json:"project_id"`
	Name            string     `db:"name" json:"name"`
	Slug            string     `db:"slug" json:"slug"`
	DesignPrompt    string     `db:"design_prompt" json:"design_prompt"`
	Appearance      JSONMap    `db:"appearance" json:"appearance"`
	Personality     string     `db:"personality" json:"personality"`
	Background      string     `db:"background" json:"background"`
	Role            string     `db:"role" json:"role"`
	PersonalityTags StringList `db:"personality_tags" json:"personality_tags"`
	Relationships   JSONMap    `db:"relationships" json:"relationships"`
	VoiceProfile    JSONMap    `db:"voice_profile" json:"voice_profile"`
	LoraPath        *string    `db:"lora_path" json:"lora_path,omitempty"`
	LoraTrigger     *string    `db:"lora_trigger" json:"lora_trigger,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Scene is an ordered unit of narrative within a project.
type Scene struct {
	ID                int64     `db:"id" json:"id"`
	ProjectID         string    `db:"project_id" json:"project_id"`
	SceneNumber       int       `db:"scene_number" json:"scene_number"`
	Title             string    `db:"title" json:"title"`
	Description       string    `db:"description" json:"description"`
	Location          string    `db:"location" json:"location"`
	Mood              string    `db:"mood" json:"mood"`
	TimeOfDay         string    `db:"time_of_day" json:"time_of_day"`
	Weather           string    `db:"weather" json:"weather"`
	NarrativeText     string    `db:"narrative_text" json:"narrative_text"`
	GenerationStatus  string    `db:"generation_status" json:"generation_status"`
	OutputVideoPath   *string   `db:"output_video_path" json:"output_video_path,omitempty"`
	DialogueAudioPath *string   `db:"dialogue_audio_path" json:"dialogue_audio_path,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Shot is a sub-unit of a scene with its own prompt and character list.
type Shot struct {
	ID                int64      `db:"id" json:"id"`
	SceneID           int64      `db:"scene_id" json:"scene_id"`
	ShotNumber        int        `db:"shot_number" json:"shot_number"`
	ShotType          string     `db:"shot_type" json:"shot_type"`
	CameraAngle       string     `db:"camera_angle" json:"camera_angle"`
	MotionPrompt      string     `db:"motion_prompt" json:"motion_prompt"`
	CharactersPresent StringList `db:"characters_present" json:"characters_present"`
	DialogueText      string     `db:"dialogue_text" json:"dialogue_text"`
	DialogueCharacter string     `db:"dialogue_character" json:"dialogue_character"`
	Status            string     `db:"status" json:"status"`
	OutputVideoPath   *string    `db:"output_video_path" json:"output_video_path,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Episode groups scenes; purely organizational.
type Episode struct {
	ID          int64     `db:"id" json:"id"`
	ProjectID   string    `db:"project_id" json:"project_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// EpisodeScene orders a scene within an episode.
type EpisodeScene struct {
	EpisodeID int64 `db:"episode_id" json:"episode_id"`
	SceneID   int64 `db:"scene_id" json:"scene_id"`
	Position  int   `db:"position" json:"position"`
}

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

// Job statuses.
const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobTimeout    JobStatus = "timeout"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is terminal.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobTimeout, JobCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a transition from s to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobProcessing || next == JobCancelled
	case JobProcessing:
		return next == JobCompleted || next == JobFailed || next == JobTimeout || next == JobCancelled
	}
	return false
}

// JobType is the kind of generative work a job performs.
type JobType string

// Job types.
const (
	JobTypeImage JobType = "image"
	JobTypeVideo JobType = "video"
	JobTypeBatch JobType = "batch"
)

// Job is a unit of generative work.
type Job struct {
	ID            string     `db:"id" json:"id"`
	Type          JobType    `db:"type" json:"type"`
	Prompt        string     `db:"prompt" json:"prompt"`
	Parameters    JSONMap    `db:"parameters" json:"parameters"`
	Status        JobStatus  `db:"status" json:"status"`
	BackendID     *string    `db:"backend_id" json:"backend_id,omitempty"`
	OutputPath    *string    `db:"output_path" json:"output_path,omitempty"`
	OrganizedPath *string    `db:"organized_path" json:"organized_path,omitempty"`
	ErrorMessage  *string    `db:"error_message" json:"error_message,omitempty"`
	ProjectID     *string    `db:"project_id" json:"project_id,omitempty"`
	CharacterID   *int64     `db:"character_id" json:"character_id,omitempty"`
	TotalTime     *float64   `db:"total_time" json:"total_time,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// CharacterSceneState holds one character's narrative state within one scene.
type CharacterSceneState struct {
	ID                  int64      `db:"id" json:"id"`
	SceneID             int64      `db:"scene_id" json:"scene_id"`
	CharacterSlug       string     `db:"character_slug" json:"character_slug"`
	Clothing            *string    `db:"clothing" json:"clothing,omitempty"`
	HairState           *string    `db:"hair_state" json:"hair_state,omitempty"`
	Injuries            InjuryList `db:"injuries" json:"injuries"`
	Accessories         StringList `db:"accessories" json:"accessories"`
	BodyState           *string    `db:"body_state" json:"body_state,omitempty"`
	EmotionalState      *string    `db:"emotional_state" json:"emotional_state,omitempty"`
	EnergyLevel         *string    `db:"energy_level" json:"energy_level,omitempty"`
	RelationshipContext JSONMap    `db:"relationship_context" json:"relationship_context"`
	LocationInScene     *string    `db:"location_in_scene" json:"location_in_scene,omitempty"`
	Carrying            StringList `db:"carrying" json:"carrying"`
	StateSource         string     `db:"state_source" json:"state_source"`
	Version             int        `db:"version" json:"version"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// State sources.
const (
	StateSourceAuto          = "auto"
	StateSourceAIInitialized = "ai_initialized"
	StateSourceManual        = "manual"
	StateSourcePropagated    = "propagated"
)

// RegenerationEntry is one enqueued downstream invalidation.
type RegenerationEntry struct {
	ID            int64      `db:"id" json:"id"`
	SceneID       int64      `db:"scene_id" json:"scene_id"`
	ShotID        *int64     `db:"shot_id" json:"shot_id,omitempty"`
	Reason        string     `db:"reason" json:"reason"`
	Priority      int        `db:"priority" json:"priority"`
	SourceSceneID int64      `db:"source_scene_id" json:"source_scene_id"`
	SourceField   string     `db:"source_field" json:"source_field"`
	Status        string     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// QualityFeedback is one record per reviewed generation.
type QualityFeedback struct {
	ID                 int64      `db:"id" json:"id"`
	JobID              *string    `db:"job_id" json:"job_id,omitempty"`
	PromptID           string     `db:"prompt_id" json:"prompt_id"`
	ProjectID          *string    `db:"project_id" json:"project_id,omitempty"`
	Parameters         JSONMap    `db:"parameters" json:"parameters"`
	ContractPassed     bool       `db:"contract_passed" json:"contract_passed"`
	QualityScore       float64    `db:"quality_score" json:"quality_score"`
	StructuralGates    JSONMap    `db:"structural_gates" json:"structural_gates"`
	MotionGates        JSONMap    `db:"motion_gates" json:"motion_gates"`
	QualityGates       JSONMap    `db:"quality_gates" json:"quality_gates"`
	FrameSamples       StringList `db:"frame_samples" json:"frame_samples"`
	Recommendations    StringList `db:"recommendations" json:"recommendations"`
	SuccessfulElements StringList `db:"successful_elements" json:"successful_elements"`
	FailedElements     StringList `db:"failed_elements" json:"failed_elements"`
	AnalysisNotes      string     `db:"analysis_notes" json:"analysis_notes"`
	OutputPath         *string    `db:"output_path" json:"output_path,omitempty"`
	FileSize           *int64     `db:"file_size" json:"file_size,omitempty"`
	Duration           *float64   `db:"duration" json:"duration,omitempty"`
	FrameCount         *int       `db:"frame_count" json:"frame_count,omitempty"`
	HumanScore         *float64   `db:"human_score" json:"human_score,omitempty"`
	HumanNotes         *string    `db:"human_notes" json:"human_notes,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9_-]`)

// Slugify derives a character's deterministic URL-safe identifier:
// lowercased, whitespace collapsed to underscores, everything outside
// [a-z0-9_-] stripped.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), "_")
	return slugStripRe.ReplaceAllString(s, "")
}
