package prompt

import (
	"reflect"
	"testing"

	"github.com/codefionn/personachat/internal/config"
)

func TestStopStrings(t *testing.T) {
	got := StopStrings(StopStringInput{
		Persona:          testPersona,
		OtherMemberNames: []string{"Mallory", "Eve"},
	})
	want := []string{"\nYou:", "\nBob:", "\nMallory:"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("StopStrings() = %v, want %v", got, want)
	}
}

func TestStopStringsImpersonate(t *testing.T) {
	got := StopStrings(StopStringInput{Persona: testPersona, Impersonate: true})
	want := []string{"\nEve:", "\nBob:"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("StopStrings() = %v, want %v", got, want)
	}
}

func TestStopStringsInstructAndSpace(t *testing.T) {
	got := StopStrings(StopStringInput{
		Persona: testPersona,
		Instruct: config.InstructConfig{
			Enabled:        true,
			InputSequence:  "### Instruction:",
			OutputSequence: "### Response:",
		},
		AddSpace: true,
	})
	want := []string{"\nYou: ", "\nBob: ", "\n### Instruction: ", "\n### Response: "}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("StopStrings() = %v, want %v", got, want)
	}
}
