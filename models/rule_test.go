package models

import "testing"

func TestActionVocabularyConsistent(t *testing.T) {
	listed := ActionTypes()
	if len(listed) == 0 {
		t.Fatal("Expected a non-empty action vocabulary")
	}
	for _, at := range listed {
		if !IsKnownActionType(at) {
			t.Errorf("Listed action type %q fails validation", at)
		}
	}
	if IsKnownActionType("cast_divination") {
		t.Error("Unknown action type passed validation")
	}
}

func TestActionTypesReturnsCopy(t *testing.T) {
	first := ActionTypes()
	first[0] = "mutated"
	if ActionTypes()[0] == "mutated" {
		t.Error("Vocabulary was mutated through the returned slice")
	}
}
