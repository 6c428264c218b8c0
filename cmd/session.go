package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Control attendance sessions on a running engine",
}

var sessionOpenCmd = &cobra.Command{
	Use:   "open <course-id>",
	Short: "Open today's attendance session for a course",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionOpen,
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <course-id>",
	Short: "Close the session and print the attendance summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionClose,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <course-id>",
	Short: "Print the live per-student state of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionStatus,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionOpenCmd, sessionCloseCmd, sessionStatusCmd)

	sessionCmd.PersistentFlags().String("api-url", "", "Engine API base URL (defaults to CLASSEYE_API_URL or http://localhost:8080)")
	sessionCmd.PersistentFlags().String("date", "", "Session date YYYY-MM-DD (defaults to today)")
}

func apiBaseURL(cmd *cobra.Command) string {
	url, _ := cmd.Flags().GetString("api-url")
	if url == "" {
		url = os.Getenv("CLASSEYE_API_URL")
	}
	if url == "" {
		url = "http://localhost:8080"
	}
	return url
}

func sessionDate(cmd *cobra.Command) string {
	date, _ := cmd.Flags().GetString("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	return date
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "" {
		return fmt.Errorf("engine responded %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("engine responded %d", resp.StatusCode)
}

func runSessionOpen(cmd *cobra.Command, args []string) error {
	courseID := args[0]
	date := sessionDate(cmd)

	body, _ := json.Marshal(map[string]string{"course_id": courseID, "date": date})
	resp, err := http.Post(apiBaseURL(cmd)+"/api/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contacting engine: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	fmt.Printf("Session %s/%s opened\n", courseID, date)
	return nil
}

func runSessionClose(cmd *cobra.Command, args []string) error {
	courseID := args[0]
	date := sessionDate(cmd)

	url := fmt.Sprintf("%s/api/v1/sessions/%s/%s", apiBaseURL(cmd), courseID, date)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting engine: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var summary struct {
		Confirmed []string `json:"confirmed"`
		Partial   []string `json:"partial"`
		Absent    []string `json:"absent"`
		Present   int      `json:"present"`
		Total     int      `json:"total"`
		Rate      float64  `json:"attendance_rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return fmt.Errorf("reading summary: %w", err)
	}

	fmt.Printf("Session %s/%s closed: %d/%d present (%.0f%%)\n",
		courseID, date, summary.Present, summary.Total, summary.Rate*100)
	printStudents("Present", summary.Confirmed)
	printStudents("Partial", summary.Partial)
	printStudents("Absent", summary.Absent)
	return nil
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	courseID := args[0]
	date := sessionDate(cmd)

	url := fmt.Sprintf("%s/api/v1/sessions/%s/%s", apiBaseURL(cmd), courseID, date)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("contacting engine: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var status struct {
		Status   string            `json:"status"`
		Students map[string]string `json:"students"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	fmt.Printf("Session %s/%s is %s\n", courseID, date, status.Status)
	ids := make([]string, 0, len(status.Students))
	for id := range status.Students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %-20s %s\n", id, status.Students[id])
	}
	return nil
}

func printStudents(label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Printf("%s:\n", label)
	for _, id := range ids {
		fmt.Printf("  %s\n", id)
	}
}
