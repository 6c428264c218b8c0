package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/classeye/attendance/internal/config"
	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/database/postgres"
	"github.com/classeye/attendance/internal/faceapi"
	"github.com/classeye/attendance/internal/registry"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// enrollAngles are the reference photo angles looked up per student, in
// storage order.
var enrollAngles = []string{"front", "left", "right"}

// maxEnrollPhotoSize bounds the longer edge of an uploaded enrollment photo.
// Phone camera originals are far larger than the face service needs.
const maxEnrollPhotoSize = 1280

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Build and store reference embeddings from enrollment photos",
	Long: `Build reference embeddings for a course from a directory of enrollment
photos and store them for matching.

The directory holds one subdirectory per student ID, each containing up to
three photos named front.jpg, left.jpg and right.jpg (PNG works too). The
roster itself comes from the enrollment system; students missing from the
database are skipped with a warning.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("course", "", "Course ID to enroll (required)")
	enrollCmd.Flags().String("dir", "", "Directory with per-student photo subdirectories (required)")
	enrollCmd.MarkFlagRequired("course")
	enrollCmd.MarkFlagRequired("dir")
}

// collectEnrollmentPhotos walks the photo directory for every roster student.
// Oversized photos are scaled down before upload.
func collectEnrollmentPhotos(dir string, students []database.StudentRecord) ([]registry.EnrollmentPhoto, error) {
	var photos []registry.EnrollmentPhoto
	for _, student := range students {
		studentDir, ok := findStudentDir(dir, student)
		if !ok {
			fmt.Printf("Warning: no photo directory for student %s (%s)\n", student.StudentID, student.Name)
			continue
		}
		for _, angle := range enrollAngles {
			data, ok := readAnglePhoto(studentDir, angle)
			if !ok {
				continue
			}
			resized, err := faceapi.ResizeImage(data, maxEnrollPhotoSize)
			if err != nil {
				fmt.Printf("Warning: unreadable %s photo for student %s: %v\n", angle, student.StudentID, err)
				continue
			}
			photos = append(photos, registry.EnrollmentPhoto{
				StudentID: student.StudentID,
				Name:      student.Name,
				Angle:     angle,
				Image:     resized,
			})
		}
	}
	if len(photos) == 0 {
		return nil, errors.New("no enrollment photos found")
	}
	return photos, nil
}

// findStudentDir locates a student's photo directory, by student ID first
// and then by normalized display name, so a folder called "Jan-Novák" still
// matches the roster entry "Jan Novák".
func findStudentDir(dir string, student database.StudentRecord) (string, bool) {
	byID := filepath.Join(dir, student.StudentID)
	if _, err := os.Stat(byID); err == nil {
		return byID, true
	}

	want := registry.NormalizeStudentName(student.Name)
	if want == "" {
		return "", false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() && registry.NormalizeStudentName(entry.Name()) == want {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}

func readAnglePhoto(studentDir, angle string) ([]byte, bool) {
	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		data, err := os.ReadFile(filepath.Join(studentDir, angle+ext))
		if err == nil {
			return data, true
		}
	}
	return nil, false
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.FaceAPI.URL == "" {
		return errors.New("FACE_API_URL environment variable is required")
	}

	courseID := mustGetString(cmd, "course")
	dir := mustGetString(cmd, "dir")

	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	ctx := context.Background()
	students, err := store.ListStudents(ctx, courseID)
	if err != nil {
		return fmt.Errorf("load roster for %s: %w", courseID, err)
	}
	if len(students) == 0 {
		return fmt.Errorf("course %s has no active students", courseID)
	}

	photos, err := collectEnrollmentPhotos(dir, students)
	if err != nil {
		return err
	}
	fmt.Printf("Embedding %d photos for %d students...\n", len(photos), len(students))

	faceClient := faceapi.NewClient(cfg.FaceAPI.URL, cfg.FaceAPI.Dim)
	reg := registry.New(faceClient, cfg.Match.ANNCutoff)

	bar := progressbar.Default(int64(len(photos)), "embedding faces")
	report, err := reg.Build(ctx, courseID, photos, registry.BuildOptions{
		OnProgress: func(done, total int) { bar.Set(done) },
	})
	bar.Finish()
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}

	// persist the embeddings grouped per student
	snap, _ := reg.Snapshot(courseID)
	byStudent := make(map[string][]database.ReferenceEmbedding)
	for _, c := range snap.Candidates() {
		byStudent[c.StudentID] = append(byStudent[c.StudentID], database.ReferenceEmbedding{
			StudentID: c.StudentID,
			CourseID:  courseID,
			Angle:     c.Angle,
			Embedding: c.Embedding,
		})
	}
	for studentID, embs := range byStudent {
		if err := store.ReplaceReferenceEmbeddings(ctx, studentID, embs); err != nil {
			return fmt.Errorf("store embeddings for %s: %w", studentID, err)
		}
	}

	fmt.Printf("Enrolled %d students with %d embeddings\n", report.Students, report.Embeddings)
	for _, studentID := range report.Excluded {
		fmt.Printf("Warning: student %s excluded (no valid reference embeddings)\n", studentID)
	}
	for _, warning := range report.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
	return nil
}
