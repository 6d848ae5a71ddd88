package value

import (
	"fmt"
	"math/rand"
	"testing"
)

type keyPool map[string]*String

func (p keyPool) key(s string) *String {
	if k, ok := p[s]; ok {
		return k
	}
	k := &String{Chars: s, Hash: HashString(s)}
	p[s] = k
	return k
}

func TestTable_SetGetDelete(t *testing.T) {
	keys := keyPool{}
	var tbl Table

	if !tbl.Set(keys.key("a"), Number(1)) {
		t.Fatalf("first Set should report a new key")
	}
	if tbl.Set(keys.key("a"), Number(2)) {
		t.Fatalf("second Set of the same key should not report a new key")
	}
	v, ok := tbl.Get(keys.key("a"))
	if !ok || v.AsNumber() != 2 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}
	if !tbl.Delete(keys.key("a")) {
		t.Fatalf("Delete(a) should succeed")
	}
	if _, ok := tbl.Get(keys.key("a")); ok {
		t.Fatalf("deleted key still present")
	}
	if tbl.Delete(keys.key("a")) {
		t.Fatalf("second Delete(a) should fail")
	}
	if !tbl.Set(keys.key("a"), Number(3)) {
		t.Fatalf("re-inserting a deleted key should report a new key")
	}
}

func TestTable_ProbeSurvivesTombstones(t *testing.T) {
	var tbl Table
	// Three keys forced into the same bucket.
	a := &String{Chars: "a", Hash: 1}
	b := &String{Chars: "b", Hash: 1}
	c := &String{Chars: "c", Hash: 1}
	tbl.Set(a, Number(1))
	tbl.Set(b, Number(2))
	tbl.Set(c, Number(3))
	tbl.Delete(b)

	v, ok := tbl.Get(c)
	if !ok || v.AsNumber() != 3 {
		t.Fatalf("key behind a tombstone lost: %v %v", v, ok)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tbl.Len())
	}
}

func TestTable_RoundTripAcrossRehashes(t *testing.T) {
	keys := keyPool{}
	var tbl Table
	model := map[string]float64{}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 5000; i++ {
		name := fmt.Sprintf("k%d", rng.Intn(400))
		k := keys.key(name)
		switch rng.Intn(3) {
		case 0, 1:
			_, existed := model[name]
			isNew := tbl.Set(k, Number(float64(i)))
			if isNew == existed {
				t.Fatalf("step %d: Set(%s) isNew=%v but existed=%v", i, name, isNew, existed)
			}
			model[name] = float64(i)
		case 2:
			_, existed := model[name]
			if got := tbl.Delete(k); got != existed {
				t.Fatalf("step %d: Delete(%s) = %v, existed=%v", i, name, got, existed)
			}
			delete(model, name)
		}
	}

	if tbl.Len() != len(model) {
		t.Fatalf("Len = %d, model has %d", tbl.Len(), len(model))
	}
	for name, k := range keys {
		v, ok := tbl.Get(k)
		want, present := model[name]
		if ok != present {
			t.Fatalf("Get(%s) presence = %v, want %v", name, ok, present)
		}
		if ok && v.AsNumber() != want {
			t.Fatalf("Get(%s) = %v, want %v", name, v, want)
		}
	}
	if float64(tbl.count) > float64(tbl.Capacity())*TableMaxLoad {
		t.Fatalf("load factor exceeded: count %d capacity %d", tbl.count, tbl.Capacity())
	}
}

func TestTable_FindString(t *testing.T) {
	var tbl Table
	s := &String{Chars: "hello", Hash: HashString("hello")}
	tbl.Set(s, Nil())

	if got := tbl.FindString("hello", HashString("hello")); got != s {
		t.Fatalf("FindString returned %v", got)
	}
	if got := tbl.FindString("world", HashString("world")); got != nil {
		t.Fatalf("FindString found a missing string: %v", got)
	}
}

func TestTable_AddAll(t *testing.T) {
	keys := keyPool{}
	var super, sub Table
	super.Set(keys.key("greet"), Number(1))
	super.Set(keys.key("init"), Number(2))
	sub.AddAll(&super)
	sub.Set(keys.key("greet"), Number(3))

	v, _ := sub.Get(keys.key("greet"))
	if v.AsNumber() != 3 {
		t.Fatalf("override lost: %v", v)
	}
	v, _ = sub.Get(keys.key("init"))
	if v.AsNumber() != 2 {
		t.Fatalf("inherited entry lost: %v", v)
	}
	v, _ = super.Get(keys.key("greet"))
	if v.AsNumber() != 1 {
		t.Fatalf("superclass table modified: %v", v)
	}
}

func TestTable_RemoveUnmarked(t *testing.T) {
	keys := keyPool{}
	var tbl Table
	live := keys.key("live")
	dead := keys.key("dead")
	tbl.Set(live, Nil())
	tbl.Set(dead, Nil())
	live.SetMarked(true)

	if n := tbl.RemoveUnmarked(); n != 1 {
		t.Fatalf("removed %d entries, want 1", n)
	}
	if tbl.FindString("dead", dead.Hash) != nil {
		t.Fatalf("unmarked string still interned")
	}
	if tbl.FindString("live", live.Hash) != live {
		t.Fatalf("marked string removed")
	}
}
