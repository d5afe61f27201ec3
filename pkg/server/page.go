package server

import (
	"fmt"
	"strings"
)

// runtimeJS is the client runtime served at /loom.js. It applies
// update batches, serializes events, and keeps the ack counter.
const runtimeJS = `(function(){
"use strict";
var Loom = window.Loom = {
  sid: null, ackId: 0, base: null,
  el: function(id){ return document.getElementById(id); },
  setText: function(id, t){ var e=Loom.el(id); if(e) e.textContent=t; },
  setAttr: function(id, k, v){ var e=Loom.el(id); if(e) e.setAttribute(k, v); },
  removeAttr: function(id, k){ var e=Loom.el(id); if(e) e.removeAttribute(k); },
  insert: function(pid, idx, html){
    var p=Loom.el(pid); if(!p) return;
    var tpl=document.createElement('template'); tpl.innerHTML=html;
    var node=tpl.content.firstChild;
    if(idx>=0 && idx<p.children.length) p.insertBefore(node, p.children[idx]);
    else p.appendChild(node);
  },
  remove: function(id){ var e=Loom.el(id); if(e) e.remove(); },
  replace: function(id, html){
    var e=Loom.el(id); if(!e) return;
    var tpl=document.createElement('template'); tpl.innerHTML=html;
    e.replaceWith(tpl.content.firstChild);
  },
  move: function(id, pid, idx){
    var e=Loom.el(id), p=Loom.el(pid); if(!e||!p) return;
    if(idx>=0 && idx<p.children.length) p.insertBefore(e, p.children[idx]);
    else p.appendChild(e);
  },
  setPage: function(html){ document.body.innerHTML=html; },
  ackTo: function(id){ Loom.ackId=id; },
  emit: function(id, type, params){
    Loom.post([{s:id+'.'+type, p:params||{}}]);
  },
  post: function(events){
    var body='request=jsupdate&wtd='+encodeURIComponent(Loom.sid)+
      '&ackId='+Loom.ackId;
    for(var i=0;i<events.length;i++){
      var key=(i<events.length-1)?('e'+(i+1)+'signal'):'signal';
      body+='&'+key+'='+encodeURIComponent(events[i].s);
      var p=events[i].p||{};
      for(var k in p) body+='&'+encodeURIComponent(k)+'='+encodeURIComponent(p[k]);
    }
    fetch(Loom.base, {method:'POST', headers:
      {'Content-Type':'application/x-www-form-urlencoded'}, body: body})
      .then(function(r){ if(r.status===403){ location.reload(); } return r.text(); })
      .then(function(js){ (new Function(js))(); });
  },
  reload: function(){ location.reload(); },
  fire: function(el, type, params){
    while(el && el.getAttribute){
      var on = el.getAttribute('data-loom-on');
      if(on && (' '+on+' ').indexOf(' '+type+' ') >= 0){
        Loom.emit(el.id, type, params);
        return;
      }
      el = el.parentNode;
    }
  }
};
document.addEventListener('click', function(ev){
  Loom.fire(ev.target, 'clicked');
});
document.addEventListener('change', function(ev){
  Loom.fire(ev.target, 'changed', {value: ev.target.value});
});
})();
`

// bootstrapPage is the HTML shell served on the first request. The
// inline script upgrades to the script session; clients without
// script stay on the plain-HTML fallback inside <noscript>.
func bootstrapPage(basePath, sessionID, noscriptHTML string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, `<script src="%s/loom.js"></script>`, basePath)
	fmt.Fprintf(&b,
		`<script>window.addEventListener('DOMContentLoaded',function(){`+
			`var s=document.createElement('script');`+
			`s.src=%q;document.head.appendChild(s);});</script>`,
		fmt.Sprintf("%s?wtd=%s&request=script", basePath, sessionID))
	b.WriteString("</head><body>")
	b.WriteString("<noscript>")
	b.WriteString(noscriptHTML)
	b.WriteString("</noscript>")
	b.WriteString("</body></html>")
	return b.String()
}

// reloadPage tells a tab holding a dead session to start over.
func reloadPage(basePath string) string {
	return fmt.Sprintf("<!DOCTYPE html>\n<html><head>"+
		`<meta http-equiv="refresh" content="0; url=%s">`+
		"</head><body>Session expired, reloading.</body></html>", basePath)
}
