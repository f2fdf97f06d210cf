package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/maksverver/tripledb"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("tripledb: ")

	dir := flag.String("dir", ".", "store directory")
	model := flag.String("model", "default", "model name")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: tripledb <flags> <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  add <subj> <pred> <obj>     add a triple to the model")
		fmt.Fprintln(os.Stderr, "  remove <subj> <pred> <obj>  remove a triple from the model")
		fmt.Fprintln(os.Stderr, "  find <subj> <pred> <obj>    list matching triples; ? is a wildcard")
		fmt.Fprintln(os.Stderr, "  empty                       remove all triples from the model")
		fmt.Fprintln(os.Stderr, "  stats                       print store statistics")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	store, err := tripledb.Open(*dir)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	switch args[0] {
	case "add", "remove":
		if len(args) != 4 {
			flag.Usage()
			os.Exit(1)
		}
		nid := internTriple(store, args[1], args[2], args[3])
		m := openModel(store, *model)
		defer m.Close()

		var changed bool
		if args[0] == "add" {
			changed, err = m.AddTriple(nid)
		} else {
			changed, err = m.RemoveTriple(nid)
		}
		if err != nil {
			log.Fatal(err)
		}
		if !changed {
			log.Printf("%s: no change", args[0])
		}
	case "find":
		if len(args) != 4 {
			flag.Usage()
			os.Exit(1)
		}
		var pattern tripledb.Triple
		for i, arg := range args[1:4] {
			if arg == "?" {
				continue
			}
			pattern[i] = internNode(store, arg)
		}
		m := openModel(store, *model)
		defer m.Close()

		var nid tripledb.NID
		for {
			nid, err = m.FindTriple(pattern, nid)
			if err != nil {
				log.Fatal(err)
			}
			if nid.IsNull() {
				break
			}
			fmt.Println(formatTriple(store, nid))
		}
	case "empty":
		m := openModel(store, *model)
		defer m.Close()
		n, err := m.Empty()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("removed %d triples", n)
	case "stats":
		st, err := store.Stats()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("nodes: %d, triples: %d, file: %s (%d bytes)",
			st.NumNodes, st.NumTriples, st.File, st.SizeInBytes)
	default:
		flag.Usage()
		os.Exit(1)
	}
}

func openModel(store *tripledb.Store, name string) *tripledb.Model {
	m, err := store.OpenModel(name)
	if err != nil {
		log.Fatal(err)
	}
	return m
}

func internNode(store *tripledb.Store, s string) tripledb.NID {
	nid, err := store.IdentifyNode([]byte(s))
	if err != nil {
		log.Fatal(err)
	}
	return nid
}

func internTriple(store *tripledb.Store, subj, pred, obj string) tripledb.NID {
	nid, err := store.IdentifyTriple(tripledb.Triple{
		internNode(store, subj),
		internNode(store, pred),
		internNode(store, obj),
	})
	if err != nil {
		log.Fatal(err)
	}
	return nid
}

func formatTriple(store *tripledb.Store, nid tripledb.NID) string {
	t, err := store.ResolveTriple(nid)
	if err != nil {
		log.Fatal(err)
	}
	out := ""
	for i, n := range t {
		if i > 0 {
			out += " "
		}
		if n.IsTriple() {
			out += fmt.Sprintf("(triple %d)", n.Index)
			continue
		}
		data, err := store.ResolveNode(n, nil)
		if err != nil {
			log.Fatal(err)
		}
		out += fmt.Sprintf("%q", data)
	}
	return out
}
